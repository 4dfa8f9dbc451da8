package reporting

import (
	"context"
	"errors"
	"math"
	"time"

	"insight-call-flow/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce org filtering.
// - Ranges are half-open: [from, to).
type Repository interface {
	ListScores(ctx context.Context, orgID string, from, to time.Time) ([]ScoreRow, error)
	RecordCounts(ctx context.Context, orgID string, from, to time.Time) (map[string]int64, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) QualitySummary(ctx context.Context, req QualitySummaryRequest) (QualitySummary, error) {
	if req.OrgID == "" {
		return QualitySummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return QualitySummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return QualitySummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListScores(ctx, req.OrgID, req.Range.From, req.Range.To)
	if err != nil {
		return QualitySummary{}, err
	}
	records, err := s.repo.RecordCounts(ctx, req.OrgID, req.Range.From, req.Range.To)
	if err != nil {
		return QualitySummary{}, err
	}

	out := QualitySummary{
		OrgID:         req.OrgID,
		Range:         req.Range,
		CallsBySource: map[string]int{},
		TelfinRecords: records,
	}
	var general, satisfaction, communication, sales mean
	for _, r := range rows {
		out.TotalCalls++
		src := r.SourceProvider
		if src == "" {
			src = "upload"
		}
		out.CallsBySource[src]++

		switch calls.Status(r.Status) {
		case calls.StatusPending:
			out.PendingCalls++
		case calls.StatusProcessing:
			out.ProcessingCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusCompleted:
			out.CompletedCalls++
			general.add(r.GeneralScore)
			satisfaction.add(r.Satisfaction)
			communication.add(r.Communication)
			sales.add(r.SalesTechnique)
		}
	}
	out.AvgGeneral = general.value()
	out.AvgSatisfaction = satisfaction.value()
	out.AvgCommunication = communication.value()
	out.AvgSalesTechnique = sales.value()
	return out, nil
}

type mean struct {
	sum int
	n   int
}

func (m *mean) add(v *int) {
	if v == nil {
		return
	}
	m.sum += *v
	m.n++
}

// value rounds to two decimals.
func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := math.Round(float64(m.sum)/float64(m.n)*100) / 100
	return &v
}
