package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"pillarline/internal/domain"
)

func (r Repo) InsertAuditRecordTx(ctx context.Context, tx *sql.Tx, rec domain.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_records(id,product_name,pillar_id,username,score,ts,record_json) VALUES (?,?,?,?,?,?,?)`,
		rec.ID, rec.ProductName, rec.PillarID, rec.User.Username, rec.Score, rec.Timestamp, string(data))
	return err
}

// ListAuditRecords returns stored records newest first, optionally for one product.
func (r Repo) ListAuditRecords(ctx context.Context, productName string, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT record_json FROM audit_records ORDER BY ts DESC, rowid DESC LIMIT ?`
	args := []any{limit}
	if productName != "" {
		query = `SELECT record_json FROM audit_records WHERE product_name=? ORDER BY ts DESC, rowid DESC LIMIT ?`
		args = []any{productName, limit}
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec domain.AuditRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
