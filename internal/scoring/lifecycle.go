package scoring

import (
	"time"

	"pillarline/internal/domain"
)

// StageCoverage returns, per lifecycle stage with at least one question,
// the rounded percentage of that stage's questions answered yes.
func StageCoverage(questions []domain.Question, answers map[string]domain.AnswerValue) map[domain.LifecycleStage]int {
	total := map[domain.LifecycleStage]int{}
	yes := map[domain.LifecycleStage]int{}
	for _, q := range questions {
		total[q.LifecycleStage]++
		if answers[q.ID] == domain.AnswerYes {
			yes[q.LifecycleStage]++
		}
	}
	out := make(map[domain.LifecycleStage]int, len(total))
	for stage, n := range total {
		out[stage] = Round(float64(yes[stage]) * 100 / float64(n))
	}
	return out
}

// Coverage is StageCoverage for a single stage; 0 when the stage has no questions.
func Coverage(questions []domain.Question, answers map[string]domain.AnswerValue, stage domain.LifecycleStage) int {
	return StageCoverage(questions, answers)[stage]
}

// Advance moves current one stage forward when coverage reaches threshold.
// retire and unknown stages never move.
func Advance(current domain.LifecycleStage, coverage, threshold int) (domain.LifecycleStage, bool) {
	if coverage < threshold {
		return current, false
	}
	next, ok := current.Next()
	if !ok {
		return current, false
	}
	return next, true
}

type CompletionInput struct {
	Product   domain.Product
	PillarID  string
	Questions []domain.Question
	Answers   map[string]domain.AnswerValue
	Now       time.Time
	Threshold int
}

type Completion struct {
	Score      int
	Coverage   map[domain.LifecycleStage]int
	Assessment domain.Assessment
	Stage      domain.LifecycleStage
	Advanced   bool
	Product    domain.Product
}

// Complete runs one assessment completion against a product value.
// Only questions of the assessed pillar are considered; in.Product is not modified.
func Complete(in CompletionInput) Completion {
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = DefaultAdvanceThreshold
	}
	questions := make([]domain.Question, 0, len(in.Questions))
	for _, q := range in.Questions {
		if q.PillarID == in.PillarID {
			questions = append(questions, q)
		}
	}
	answers := PillarAnswers(questions, in.PillarID, in.Answers)

	score := Score(answers)
	coverage := StageCoverage(questions, answers)
	assessment := NewAssessment(in.Product.Assessments, in.PillarID, score, in.Now)
	stage, advanced := Advance(in.Product.LifecycleStage, coverage[in.Product.LifecycleStage], threshold)

	next := in.Product.Clone()
	next.Assessments = AppendAssessment(next.Assessments, assessment)
	next.LifecycleStage = stage

	return Completion{
		Score:      score,
		Coverage:   coverage,
		Assessment: assessment,
		Stage:      stage,
		Advanced:   advanced,
		Product:    next,
	}
}
