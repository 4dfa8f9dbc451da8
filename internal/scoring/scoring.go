// Package scoring rates a call transcript with deterministic lexical heuristics.
//
// The heuristic is a placeholder for a model-backed scorer; callers depend on
// the Scorer interface only. Thresholds and rounding are fixed so stored
// results stay comparable across releases.
package scoring

import (
	"math"
	"strings"

	"insight-call-flow/internal/transcription"
)

// ManagerSpeaker is the diarization label of the call-center side.
const ManagerSpeaker = "speaker_0"

type Transcript struct {
	Text     string
	Segments []transcription.Segment
}

type Result struct {
	Summary            string  `json:"summary"`
	GeneralScore       int     `json:"general_score"`
	Satisfaction       int     `json:"satisfaction"`
	Communication      int     `json:"communication"`
	SalesTechnique     int     `json:"sales_technique"`
	TranscriptionScore int     `json:"transcription_score"`
	Feedback           string  `json:"feedback"`
	Advice             string  `json:"advice"`
	TalkRatio          float64 `json:"talk_ratio"`
	Signals            Signals `json:"signals"`
}

// Signals are the raw lexical counts behind a Result.
type Signals struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Sales    int `json:"sales"`
	Courtesy int `json:"courtesy"`
}

// Scorer maps a transcript to quality metrics. Implementations must not fail.
type Scorer interface {
	Score(t Transcript) Result
}

// Heuristic is the lexical Scorer.
type Heuristic struct{}

func NewHeuristic() Heuristic { return Heuristic{} }

var (
	positiveWords = []string{
		"спасибо", "отлично", "хорошо", "прекрасно", "замечательно", "понятно", "договорились", "супер",
		"thank", "great", "good", "excellent", "perfect", "awesome", "agreed",
	}
	negativeWords = []string{
		"плохо", "ужасно", "недоволен", "недовольна", "жалоба", "проблема", "отказ", "дорого", "не устраивает",
		"bad", "terrible", "complaint", "problem", "refund", "cancel", "expensive", "angry",
	}
	salesWords = []string{
		"предложение", "скидка", "акция", "цена", "стоимость", "тариф", "заказ", "оформить", "договор", "купить",
		"offer", "discount", "price", "deal", "order", "purchase", "contract", "plan",
	}
	courtesyWords = []string{
		"здравствуйте", "добрый день", "добрый вечер", "пожалуйста", "извините", "всего доброго", "до свидания", "рад помочь",
		"hello", "please", "sorry", "welcome", "goodbye", "happy to help",
	}
)

const (
	talkRatioDominant  = 2.0
	talkRatioPassive   = 0.5
	talkRatioMonologue = 3.0

	transcriptionMinChars = 50
)

func (Heuristic) Score(t Transcript) Result {
	text := strings.ToLower(t.Text)
	sig := Signals{
		Positive: countMatches(text, positiveWords),
		Negative: countMatches(text, negativeWords),
		Sales:    countMatches(text, salesWords),
		Courtesy: countMatches(text, courtesyWords),
	}
	ratio := TalkRatio(t.Segments)

	general := 6.0 +
		capped(float64(sig.Positive)*0.5, 2) -
		capped(float64(sig.Negative)*0.5, 2) +
		capped(float64(sig.Sales)*0.3, 1) +
		capped(float64(sig.Courtesy)*0.3, 1)

	satisfaction := 6.0 +
		capped(float64(sig.Positive)*0.7, 3) -
		capped(float64(sig.Negative)*0.8, 3)

	communication := 6.0 +
		capped(float64(sig.Courtesy)*0.5, 2) -
		capped(float64(sig.Negative)*0.3, 1)
	switch {
	case ratio > talkRatioDominant:
		communication--
	case ratio < talkRatioPassive:
		communication++
	}

	sales := 5.0 +
		capped(float64(sig.Sales)*0.6, 3) +
		capped(float64(sig.Positive)*0.2, 1)

	transcriptionScore := 7
	if len([]rune(t.Text)) > transcriptionMinChars {
		transcriptionScore = 10
	}

	r := Result{
		GeneralScore:       clampScore(general),
		Satisfaction:       clampScore(satisfaction),
		Communication:      clampScore(communication),
		SalesTechnique:     clampScore(sales),
		TranscriptionScore: transcriptionScore,
		TalkRatio:          ratio,
		Signals:            sig,
	}
	r.Summary = summary(sig)
	r.Feedback, r.Advice = feedback(r.GeneralScore, sig, ratio)
	return r
}

// TalkRatio is manager talk time over customer talk time.
// It is 1 when the customer never speaks.
func TalkRatio(segments []transcription.Segment) float64 {
	var manager, customer float64
	for _, s := range segments {
		d := s.End - s.Start
		if d <= 0 {
			continue
		}
		if s.Speaker == ManagerSpeaker {
			manager += d
		} else {
			customer += d
		}
	}
	if customer == 0 {
		return 1
	}
	return manager / customer
}

func countMatches(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func capped(v, limit float64) float64 {
	return math.Min(v, limit)
}

// clampScore rounds half up and clamps to [1, 10].
func clampScore(v float64) int {
	n := int(math.Floor(v + 0.5))
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

func summary(sig Signals) string {
	switch {
	case sig.Positive > sig.Negative:
		return "The conversation was mostly positive; the customer responded well."
	case sig.Negative > sig.Positive:
		return "The conversation showed signs of customer dissatisfaction."
	default:
		return "The conversation was neutral in tone."
	}
}

func feedback(general int, sig Signals, ratio float64) (string, string) {
	var fb, advice string
	switch {
	case general < 6:
		fb = "The call needs improvement: address customer concerns directly and keep a constructive tone."
		advice = "Acknowledge objections, restate the customer's need and propose a concrete next step."
	case general >= 8:
		fb = "Excellent call: courteous, confident and well structured."
		advice = "Keep using this approach and share it with the team."
	default:
		fb = "A solid call with room to grow."
		advice = "Ask more open questions and summarise agreements at the end of the call."
	}
	if sig.Sales == 0 {
		advice += " Mention relevant offers or next purchase steps."
	}
	if ratio > talkRatioMonologue {
		advice += " Let the customer speak more: the manager dominated the conversation."
	}
	return fb, advice
}
