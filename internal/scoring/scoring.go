// Package scoring computes pillar scores, assessment history and lifecycle
// advancement. It performs no I/O and never reads the clock.
package scoring

import (
	"fmt"
	"math"
	"time"

	"pillarline/internal/domain"
)

// DefaultAdvanceThreshold is the stage coverage percentage required to move a product forward.
const DefaultAdvanceThreshold = 80

// Round rounds half up, so 62.5 becomes 63.
func Round(x float64) int {
	return int(math.Floor(x + 0.5))
}

// Score returns the percentage of yes answers among the entries that count.
// Only unknown and not-relevant are excluded; an empty (unanswered) entry
// counts as not yes. No counted entries scores 0.
func Score(answers map[string]domain.AnswerValue) int {
	var yes, counted int
	for _, a := range answers {
		switch a {
		case domain.AnswerUnknown, domain.AnswerNotRelevant:
			continue
		case domain.AnswerYes:
			yes++
		}
		counted++
	}
	if counted == 0 {
		return 0
	}
	return Round(float64(yes) * 100 / float64(counted))
}

// PillarAnswers returns one entry per question of pillarID, taking the value
// from answers and leaving questions without an answer unanswered.
func PillarAnswers(questions []domain.Question, pillarID string, answers map[string]domain.AnswerValue) map[string]domain.AnswerValue {
	out := make(map[string]domain.AnswerValue, len(questions))
	for _, q := range questions {
		if q.PillarID == pillarID {
			out[q.ID] = answers[q.ID]
		}
	}
	return out
}

// MergeScores returns a copy of prev with pillarID set to score.
// An existing entry keeps its position; a new pillar is appended.
func MergeScores(prev []domain.PillarScore, pillarID string, score int) []domain.PillarScore {
	out := make([]domain.PillarScore, 0, len(prev)+1)
	replaced := false
	for _, s := range prev {
		if s.PillarID == pillarID {
			s.Score = score
			replaced = true
		}
		out = append(out, s)
	}
	if !replaced {
		out = append(out, domain.PillarScore{PillarID: pillarID, Score: score})
	}
	return out
}

// Overall is the rounded mean of the pillar scores, 0 when there are none.
func Overall(scores []domain.PillarScore) int {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s.Score
	}
	return Round(float64(sum) / float64(len(scores)))
}

// NewAssessment builds the next assessment from the latest one in history.
func NewAssessment(history []domain.Assessment, pillarID string, score int, now time.Time) domain.Assessment {
	var prev []domain.PillarScore
	if n := len(history); n > 0 {
		prev = history[n-1].Scores
	}
	scores := MergeScores(prev, pillarID, score)
	return domain.Assessment{
		ID:           fmt.Sprintf("a%d", now.UnixMilli()),
		Date:         now.UTC().Format("2006-01-02"),
		Scores:       scores,
		OverallScore: Overall(scores),
	}
}

// AppendAssessment returns a new history with a at the end.
func AppendAssessment(history []domain.Assessment, a domain.Assessment) []domain.Assessment {
	out := make([]domain.Assessment, len(history), len(history)+1)
	copy(out, history)
	return append(out, a)
}
