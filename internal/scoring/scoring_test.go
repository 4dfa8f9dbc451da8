package scoring

import (
	"math"
	"strings"
	"testing"

	"insight-call-flow/internal/transcription"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seg(speaker string, start, end float64) transcription.Segment {
	return transcription.Segment{Speaker: speaker, Start: start, End: end}
}

func inRange(t *testing.T, r Result) {
	t.Helper()
	for name, v := range map[string]int{
		"general":       r.GeneralScore,
		"satisfaction":  r.Satisfaction,
		"communication": r.Communication,
		"sales":         r.SalesTechnique,
	} {
		assert.GreaterOrEqual(t, v, 1, name)
		assert.LessOrEqual(t, v, 10, name)
	}
	assert.Contains(t, []int{7, 10}, r.TranscriptionScore)
}

func TestScore_Deterministic(t *testing.T) {
	tr := Transcript{
		Text:     "Здравствуйте! Спасибо за звонок, у нас есть скидка на тариф. Отлично, договорились.",
		Segments: []transcription.Segment{seg("speaker_0", 0, 10), seg("speaker_1", 10, 14)},
	}
	h := NewHeuristic()
	assert.Equal(t, h.Score(tr), h.Score(tr))
}

func TestScore_EmptyTranscript(t *testing.T) {
	r := NewHeuristic().Score(Transcript{})
	inRange(t, r)
	assert.Equal(t, 7, r.TranscriptionScore)
	assert.Equal(t, 1.0, r.TalkRatio)
	assert.NotEmpty(t, r.Summary)
	assert.NotEmpty(t, r.Feedback)
}

func TestScore_TranscriptionScoreThreshold(t *testing.T) {
	h := NewHeuristic()
	assert.Equal(t, 7, h.Score(Transcript{Text: strings.Repeat("a", 50)}).TranscriptionScore)
	assert.Equal(t, 10, h.Score(Transcript{Text: strings.Repeat("a", 51)}).TranscriptionScore)
}

func TestTalkRatio_ZeroCustomerTime(t *testing.T) {
	r := TalkRatio([]transcription.Segment{seg("speaker_0", 0, 30)})
	assert.Equal(t, 1.0, r)
	assert.False(t, math.IsNaN(r) || math.IsInf(r, 0))
}

func TestTalkRatio_UnsortedSegments(t *testing.T) {
	r := TalkRatio([]transcription.Segment{
		seg("speaker_1", 20, 25),
		seg("speaker_0", 0, 10),
		seg("speaker_2", 10, 15),
	})
	assert.Equal(t, 1.0, r)
}

func TestScore_TalkRatioAdjustsCommunication(t *testing.T) {
	h := NewHeuristic()
	balanced := h.Score(Transcript{Segments: []transcription.Segment{seg("speaker_0", 0, 10), seg("speaker_1", 10, 20)}})
	dominant := h.Score(Transcript{Segments: []transcription.Segment{seg("speaker_0", 0, 25), seg("speaker_1", 25, 35)}})
	passive := h.Score(Transcript{Segments: []transcription.Segment{seg("speaker_0", 0, 4), seg("speaker_1", 4, 14)}})

	assert.Equal(t, balanced.Communication-1, dominant.Communication)
	assert.Equal(t, balanced.Communication+1, passive.Communication)
	assert.NotContains(t, dominant.Advice, "dominated")
}

func TestScore_MonologueAddsCoachingAdvice(t *testing.T) {
	r := NewHeuristic().Score(Transcript{Segments: []transcription.Segment{seg("speaker_0", 0, 40), seg("speaker_1", 40, 50)}})
	assert.Contains(t, r.Advice, "dominated")
}

func TestScore_NegativeCallGetsCorrectiveFeedback(t *testing.T) {
	r := NewHeuristic().Score(Transcript{
		Text: "это ужасно, у меня жалоба и проблема, всё плохо, я недоволен, отказ",
	})
	inRange(t, r)
	require.Less(t, r.GeneralScore, 6)
	assert.Contains(t, r.Feedback, "needs improvement")
	assert.Contains(t, r.Summary, "dissatisfaction")
}

func TestScore_PositiveCallGetsPraise(t *testing.T) {
	r := NewHeuristic().Score(Transcript{
		Text: "Здравствуйте, пожалуйста. Спасибо, отлично, прекрасно, замечательно! Скидка по акции, оформить заказ, договор.",
	})
	inRange(t, r)
	require.GreaterOrEqual(t, r.GeneralScore, 8)
	assert.Contains(t, r.Feedback, "Excellent")
	assert.Equal(t, 10, r.TranscriptionScore)
}

func TestScore_SubstringsCount(t *testing.T) {
	r := NewHeuristic().Score(Transcript{Text: "thankful customers"})
	assert.Equal(t, 1, r.Signals.Positive)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 1, clampScore(-3))
	assert.Equal(t, 10, clampScore(12.4))
	assert.Equal(t, 7, clampScore(6.5))
	assert.Equal(t, 6, clampScore(6.49))
}
