// Package audit records completed assessments to external sinks.
package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pillarline/internal/domain"
)

const unknownPillar = "Unknown pillar"

// BuildRecord flattens one completed assessment. Questions are listed in the
// given order; unanswered ones carry an empty answer.
func BuildRecord(p domain.Product, pillar *domain.Pillar, pillarID string, questions []domain.Question, answers map[string]domain.AnswerValue, score int, ts time.Time, user domain.User) domain.AuditRecord {
	name := unknownPillar
	if pillar != nil {
		name = pillar.Name
	}
	detail := make([]domain.DetailedAnswer, 0, len(questions))
	for _, q := range questions {
		if q.PillarID != pillarID {
			continue
		}
		detail = append(detail, domain.DetailedAnswer{
			QuestionID:     q.ID,
			QuestionText:   q.Text,
			Answer:         string(answers[q.ID]),
			LifecycleStage: string(q.LifecycleStage),
		})
	}
	return domain.AuditRecord{
		ID:             uuid.NewString(),
		ProductName:    p.Name,
		Entity:         p.Entity,
		BusinessDomain: p.BusinessDomain,
		PillarID:       pillarID,
		PillarName:     name,
		Answers:        detail,
		Score:          score,
		Timestamp:      ts.UTC().Format(time.RFC3339),
		User:           user.Public(),
	}
}

// FileName is <product>-<user>-<pillar>-YYYY-MM-DD-HH-MM-SS.json.
func FileName(rec domain.AuditRecord) string {
	stamp := rec.Timestamp
	if ts, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil {
		stamp = ts.UTC().Format("2006-01-02-15-04-05")
	}
	return fmt.Sprintf("%s-%s-%s-%s.json", safeName(rec.ProductName), safeName(rec.User.Username), safeName(rec.PillarID), stamp)
}

func safeName(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, v)
}
