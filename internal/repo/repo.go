package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pillarline/internal/domain"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) now() string {
	if r.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return r.Now().UTC().Format(time.RFC3339)
}

const productColumns = `id,name,description,business_unit,entity,business_domain,lifecycle_stage,business_info_json,pinned`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var (
		p      domain.Product
		stage  string
		info   sql.NullString
		pinned int
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.BusinessUnit, &p.Entity, &p.BusinessDomain, &stage, &info, &pinned)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.LifecycleStage = domain.LifecycleStage(stage)
	p.Pinned = pinned != 0
	if info.Valid && info.String != "" {
		if err := json.Unmarshal([]byte(info.String), &p.BusinessInfo); err != nil {
			return p, fmt.Errorf("decode business info for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

// GetProduct returns the product with its full assessment history.
func (r Repo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return getProduct(ctx, r.DB, id)
}

func (r Repo) GetProductTx(ctx context.Context, tx *sql.Tx, id string) (domain.Product, error) {
	return getProduct(ctx, tx, id)
}

func getProduct(ctx context.Context, q queryer, id string) (domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	history, err := listAssessments(ctx, q, id)
	if err != nil {
		return p, err
	}
	p.Assessments = history
	return p, nil
}

// ListProducts returns every product in creation order.
func (r Repo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	var res []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range res {
		history, err := listAssessments(ctx, r.DB, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Assessments = history
	}
	return res, nil
}

// LoadProducts satisfies store.Persister.
func (r Repo) LoadProducts(ctx context.Context) ([]domain.Product, error) {
	return r.ListProducts(ctx)
}

// SaveProduct upserts the product and appends assessments not yet stored.
func (r Repo) SaveProduct(ctx context.Context, p domain.Product) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.SaveProductTx(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveProductTx writes p inside tx. Stored assessments are never rewritten;
// a history shorter than what is stored is rejected.
func (r Repo) SaveProductTx(ctx context.Context, tx *sql.Tx, p domain.Product) error {
	info, err := json.Marshal(p.BusinessInfo)
	if err != nil {
		return fmt.Errorf("marshal business info: %w", err)
	}
	now := r.now()
	_, err = tx.ExecContext(ctx, `INSERT INTO products(`+productColumns+`,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, business_unit=excluded.business_unit,
entity=excluded.entity, business_domain=excluded.business_domain, lifecycle_stage=excluded.lifecycle_stage,
business_info_json=excluded.business_info_json, pinned=excluded.pinned, updated_at=excluded.updated_at`,
		p.ID, p.Name, p.Description, p.BusinessUnit, p.Entity, p.BusinessDomain, string(p.LifecycleStage), string(info), boolInt(p.Pinned), now, now)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assessments WHERE product_id=?`, p.ID).Scan(&stored); err != nil {
		return err
	}
	if len(p.Assessments) < stored {
		return fmt.Errorf("product %s: assessment history is append-only (%d stored, %d given)", p.ID, stored, len(p.Assessments))
	}
	for seq := stored; seq < len(p.Assessments); seq++ {
		if err := insertAssessment(ctx, tx, p.ID, seq, p.Assessments[seq]); err != nil {
			return err
		}
	}
	return nil
}

func insertAssessment(ctx context.Context, tx *sql.Tx, productID string, seq int, a domain.Assessment) error {
	scores, err := json.Marshal(a.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO assessments(product_id,seq,id,date,scores_json,overall_score) VALUES (?,?,?,?,?,?)`,
		productID, seq, a.ID, a.Date, string(scores), a.OverallScore)
	if err != nil {
		return fmt.Errorf("insert assessment %s: %w", a.ID, err)
	}
	return nil
}

// ListAssessments returns the product's history in insertion order.
func (r Repo) ListAssessments(ctx context.Context, productID string) ([]domain.Assessment, error) {
	return listAssessments(ctx, r.DB, productID)
}

func listAssessments(ctx context.Context, q queryer, productID string) ([]domain.Assessment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,date,scores_json,overall_score FROM assessments WHERE product_id=? ORDER BY seq`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Assessment{}
	for rows.Next() {
		var (
			a      domain.Assessment
			scores string
		)
		if err := rows.Scan(&a.ID, &a.Date, &scores, &a.OverallScore); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scores), &a.Scores); err != nil {
			return nil, fmt.Errorf("decode scores for %s: %w", a.ID, err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CountProducts is used to decide whether the catalogue seed must be loaded.
func (r Repo) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
