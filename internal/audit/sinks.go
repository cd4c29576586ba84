package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"pillarline/internal/domain"
	"pillarline/internal/events"
	"pillarline/internal/repo"
)

// Sink receives audit records. Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec domain.AuditRecord) error
}

// EventSink stores the record in SQLite next to an assessment.logged event.
type EventSink struct {
	Repo   repo.Repo
	Events events.Writer
}

func (EventSink) Name() string { return "events" }

func (s EventSink) Write(ctx context.Context, rec domain.AuditRecord) error {
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.InsertAuditRecordTx(ctx, tx, rec); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if err := s.Events.Append(ctx, tx, events.AssessmentLogged, "audit_record", rec.ID, rec.User.Username, events.EventPayload{
		"product_name": rec.ProductName,
		"pillar_id":    rec.PillarID,
		"score":        rec.Score,
		"file":         FileName(rec),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RedisSink pushes the JSON record onto a list.
type RedisSink struct {
	Client *redis.Client
	Key    string
}

func NewRedisSink(addr, key string) *RedisSink {
	return &RedisSink{Client: redis.NewClient(&redis.Options{Addr: addr}), Key: key}
}

func (*RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, rec domain.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if err := s.Client.RPush(ctx, s.Key, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", s.Key, err)
	}
	return nil
}

// Recent returns up to n records from the end of the list, oldest first.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]domain.AuditRecord, error) {
	items, err := s.Client.LRange(ctx, s.Key, -n, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditRecord, 0, len(items))
	for _, item := range items {
		var rec domain.AuditRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// DirSink writes one indented JSON file per record.
type DirSink struct {
	Dir string
}

func (DirSink) Name() string { return "dir" }

func (s DirSink) Write(_ context.Context, rec domain.AuditRecord) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	return os.WriteFile(filepath.Join(s.Dir, FileName(rec)), append(data, '\n'), 0o644)
}
