package audit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"pillarline/internal/domain"
)

// Logger fans a record out to every sink. Sink failures are logged and
// returned joined; they never affect the caller's state.
type Logger struct {
	Sinks  []Sink
	Logger *log.Logger
}

func NewLogger(l *log.Logger, sinks ...Sink) *Logger {
	return &Logger{Sinks: sinks, Logger: l}
}

// Log writes rec to all sinks concurrently and waits for them.
func (l *Logger) Log(ctx context.Context, rec domain.AuditRecord) error {
	if l == nil || len(l.Sinks) == 0 {
		return nil
	}
	errs := make([]error, len(l.Sinks))
	var wg sync.WaitGroup
	for i, s := range l.Sinks {
		wg.Add(1)
		go func(i int, s Sink) {
			defer wg.Done()
			if err := s.Write(ctx, rec); err != nil {
				errs[i] = fmt.Errorf("audit sink %s: %w", s.Name(), err)
			}
		}(i, s)
	}
	wg.Wait()
	err := errors.Join(errs...)
	if err != nil {
		l.logf("audit: record %s for %s/%s: %v", rec.ID, rec.ProductName, rec.PillarID, err)
	}
	return err
}

func (l *Logger) logf(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
