package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pillarline/internal/domain"
	"pillarline/internal/events"
	"pillarline/internal/repo"
)

type actorKey struct{}

func withActor(ctx context.Context, actorID string) context.Context {
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actorID)
}

func actorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return "system"
}

// journal is the store's persister: each save writes the product row, any new
// assessments and the matching events in one transaction.
type journal struct {
	repo   repo.Repo
	events events.Writer
}

func (j journal) LoadProducts(ctx context.Context) ([]domain.Product, error) {
	return j.repo.LoadProducts(ctx)
}

func (j journal) SaveProduct(ctx context.Context, p domain.Product) error {
	return j.SaveProducts(ctx, []domain.Product{p})
}

// SaveProducts writes every product in a single transaction.
func (j journal) SaveProducts(ctx context.Context, products []domain.Product) error {
	tx, err := j.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, p := range products {
		if err := j.save(ctx, tx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (j journal) save(ctx context.Context, tx *sql.Tx, p domain.Product) error {
	prev, err := j.repo.GetProductTx(ctx, tx, p.ID)
	existed := err == nil
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := j.repo.SaveProductTx(ctx, tx, p); err != nil {
		return err
	}
	actor := actorFromContext(ctx)
	if !existed {
		if err := j.events.Append(ctx, tx, events.ProductCreated, "product", p.ID, actor, events.EventPayload{
			"name":            p.Name,
			"entity":          p.Entity,
			"lifecycle_stage": p.LifecycleStage,
		}); err != nil {
			return err
		}
	}
	for i := len(prev.Assessments); i < len(p.Assessments); i++ {
		a := p.Assessments[i]
		if err := j.events.Append(ctx, tx, events.AssessmentRecorded, "product", p.ID, actor, events.EventPayload{
			"assessment_id": a.ID,
			"scores":        a.Scores,
			"overall_score": a.OverallScore,
		}); err != nil {
			return err
		}
	}
	if existed && prev.LifecycleStage != p.LifecycleStage {
		if err := j.events.Append(ctx, tx, events.ProductAdvanced, "product", p.ID, actor, events.EventPayload{
			"from": prev.LifecycleStage,
			"to":   p.LifecycleStage,
		}); err != nil {
			return err
		}
	}
	if existed && prev.Pinned != p.Pinned {
		evt := events.ProductUnpinned
		if p.Pinned {
			evt = events.ProductPinned
		}
		if err := j.events.Append(ctx, tx, evt, "product", p.ID, actor, nil); err != nil {
			return err
		}
	}
	return nil
}
