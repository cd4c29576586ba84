package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pillarline/internal/domain"
)

func answers(kv ...string) map[string]domain.AnswerValue {
	out := map[string]domain.AnswerValue{}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = domain.AnswerValue(kv[i+1])
	}
	return out
}

func TestScoreExcludedAnswersOnly(t *testing.T) {
	assert.Equal(t, 0, Score(answers("q1", "not-relevant", "q2", "unknown")))
	assert.Equal(t, 0, Score(nil))
}

func TestScoreCountsUnansweredAsNotYes(t *testing.T) {
	assert.Equal(t, 40, Score(answers("q1", "yes", "q2", "yes", "q3", "", "q4", "", "q5", "")))
	assert.Equal(t, 50, Score(answers("q1", "yes", "q2", "", "q3", "unknown")))
}

func TestPillarAnswersSeedsEveryQuestion(t *testing.T) {
	qs := []domain.Question{{ID: "a", PillarID: "p1"}, {ID: "b", PillarID: "p1"}, {ID: "c", PillarID: "p2"}}
	got := PillarAnswers(qs, "p1", answers("a", "yes", "c", "yes", "stray", "no"))
	assert.Equal(t, map[string]domain.AnswerValue{"a": domain.AnswerYes, "b": ""}, got)
}

func TestScoreYesNoRatio(t *testing.T) {
	assert.Equal(t, 75, Score(answers("q1", "yes", "q2", "yes", "q3", "yes", "q4", "no")))
	assert.Equal(t, 67, Score(answers("q1", "yes", "q2", "yes", "q3", "no", "q4", "unknown")))
	assert.Equal(t, 100, Score(answers("q1", "yes", "q2", "not-relevant")))
	assert.Equal(t, 0, Score(answers("q1", "no")))
}

func TestScoreRoundsHalfUp(t *testing.T) {
	// 1 of 8 is 12.5
	a := answers("q1", "yes", "q2", "no", "q3", "no", "q4", "no", "q5", "no", "q6", "no", "q7", "no", "q8", "no")
	assert.Equal(t, 13, Score(a))
}

func TestScoreIdempotent(t *testing.T) {
	a := answers("q1", "yes", "q2", "no", "q3", "yes")
	first := Score(a)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Score(a))
	}
}

func TestOverall(t *testing.T) {
	assert.Equal(t, 80, Overall([]domain.PillarScore{{PillarID: "a", Score: 80}, {PillarID: "b", Score: 60}, {PillarID: "c", Score: 100}}))
	assert.Equal(t, 71, Overall([]domain.PillarScore{{PillarID: "a", Score: 80}, {PillarID: "b", Score: 61}}))
	assert.Equal(t, 0, Overall(nil))
}

func TestMergeScoresReplacesInPlace(t *testing.T) {
	prev := []domain.PillarScore{{PillarID: "p1", Score: 50}, {PillarID: "p2", Score: 70}}
	got := MergeScores(prev, "p1", 90)
	assert.Equal(t, []domain.PillarScore{{PillarID: "p1", Score: 90}, {PillarID: "p2", Score: 70}}, got)
	assert.Equal(t, 50, prev[0].Score, "prev must not be mutated")
}

func TestMergeScoresAppendsNewPillar(t *testing.T) {
	prev := []domain.PillarScore{{PillarID: "p1", Score: 50}}
	got := MergeScores(prev, "p3", 40)
	assert.Equal(t, []domain.PillarScore{{PillarID: "p1", Score: 50}, {PillarID: "p3", Score: 40}}, got)
	assert.Len(t, prev, 1)

	assert.Equal(t, []domain.PillarScore{{PillarID: "p1", Score: 10}}, MergeScores(nil, "p1", 10))
}

func TestNewAssessmentStartsFromLatest(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	history := []domain.Assessment{
		{ID: "a1", Date: "2024-01-01", Scores: []domain.PillarScore{{PillarID: "p1", Score: 10}}, OverallScore: 10},
		{ID: "a2", Date: "2024-02-01", Scores: []domain.PillarScore{{PillarID: "p1", Score: 50}, {PillarID: "p2", Score: 70}}, OverallScore: 60},
	}
	a := NewAssessment(history, "p1", 90, now)
	assert.Equal(t, "2024-03-05", a.Date)
	assert.Equal(t, "a1709649000000", a.ID)
	assert.Equal(t, []domain.PillarScore{{PillarID: "p1", Score: 90}, {PillarID: "p2", Score: 70}}, a.Scores)
	assert.Equal(t, 80, a.OverallScore)
	assert.Equal(t, 50, history[1].Scores[0].Score)
}

func TestAppendAssessmentDoesNotAlias(t *testing.T) {
	history := make([]domain.Assessment, 1, 4)
	history[0] = domain.Assessment{ID: "a1"}
	out := AppendAssessment(history, domain.Assessment{ID: "a2"})
	require.Len(t, out, 2)
	out[0].ID = "changed"
	assert.Equal(t, "a1", history[0].ID)
}
