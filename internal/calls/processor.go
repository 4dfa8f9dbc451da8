package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/internal/scoring"
	"insight-call-flow/internal/transcription"
	"insight-call-flow/pkg/logger"
)

// Listener observes the outcome of a processing run. err is nil on success.
// Listeners are best-effort: they must not block for long and cannot fail the run.
type Listener interface {
	CallProcessed(ctx context.Context, c Call, err error)
}

// Processor drives a call through
// pending -> processing/transcribing -> processing/analyzing -> completed,
// or into failed from any processing step.
type Processor struct {
	store       Store
	transcriber transcription.Transcriber
	scorer      scoring.Scorer
	listeners   []Listener
	clock       func() time.Time
}

func NewProcessor(store Store, tr transcription.Transcriber, sc scoring.Scorer, listeners ...Listener) *Processor {
	return &Processor{store: store, transcriber: tr, scorer: sc, listeners: listeners, clock: time.Now}
}

// ProcessCall transcribes and scores one call. It refuses to start when the
// call is already processing. Failures are persisted on the call and returned.
func (p *Processor) ProcessCall(ctx context.Context, orgID, callID, audioURL string) error {
	if orgID == "" || callID == "" || audioURL == "" {
		return ErrInvalidArgument
	}
	log := logger.From(ctx).With("call_id", callID, "org_id", orgID)
	start := p.clock()

	if err := p.store.ClaimForProcessing(ctx, orgID, callID, audioURL); err != nil {
		if errors.Is(err, ErrAlreadyProcessing) {
			log.Warn("call already processing, skipping")
		}
		return err
	}

	res, err := p.transcriber.Transcribe(ctx, audioURL)
	if err != nil {
		return p.fail(ctx, orgID, callID, fmt.Errorf("transcribe: %w", err))
	}

	if err := p.store.SetStep(ctx, callID, StepAnalyzing); err != nil {
		return p.fail(ctx, orgID, callID, err)
	}

	scored := p.scorer.Score(scoring.Transcript{Text: res.Text, Segments: res.Segments})

	a := Analysis{
		Transcript:         res.Text,
		GeneralScore:       scored.GeneralScore,
		Satisfaction:       scored.Satisfaction,
		Communication:      scored.Communication,
		SalesTechnique:     scored.SalesTechnique,
		TranscriptionScore: scored.TranscriptionScore,
		Summary:            scored.Summary,
		Feedback:           scored.Feedback,
		Advice:             scored.Advice,
	}
	if len(res.Segments) > 0 {
		a.Diarization = &Diarization{Segments: res.Segments, Duration: res.Duration, Language: res.Language}
	}
	if err := p.store.Complete(ctx, callID, a); err != nil {
		return p.fail(ctx, orgID, callID, err)
	}

	log.Info("call processed",
		"general_score", scored.GeneralScore,
		"segments", len(res.Segments),
		"duration_ms", p.clock().Sub(start).Milliseconds(),
	)
	p.notify(ctx, orgID, callID, nil)
	return nil
}

func (p *Processor) fail(ctx context.Context, orgID, callID string, cause error) error {
	log := logger.From(ctx).With("call_id", callID, "org_id", orgID)
	if err := p.store.MarkFailed(ctx, callID, FailureMessage(cause)); err != nil {
		log.Error("persist call failure", "err", err)
	}
	log.Error("call processing failed", "err", cause, "code", apperr.CodeOf(cause))
	logger.CaptureError(ctx, cause, map[string]string{"component": "call_processor", "code": apperr.CodeOf(cause)})
	p.notify(ctx, orgID, callID, cause)
	return cause
}

func (p *Processor) notify(ctx context.Context, orgID, callID string, runErr error) {
	if len(p.listeners) == 0 {
		return
	}
	c, err := p.store.Get(ctx, orgID, callID)
	if err != nil {
		c = Call{ID: callID, OrgID: orgID}
	}
	for _, l := range p.listeners {
		l.CallProcessed(ctx, c, runErr)
	}
}

// FailureMessage is the operator-facing error text stored on a failed call:
// the stable code (when known) followed by the truncated error.
func FailureMessage(err error) string {
	msg := apperr.Truncate(err.Error(), apperr.MaxBodyLen)
	if code := apperr.CodeOf(err); code != "" {
		return "[" + code + "] " + msg
	}
	return msg
}
