// internal/archive/archive.go

// Package archive persists circulation events to Postgres for out-of-band
// reporting. It is write-only from the core's perspective: a slow or failing
// archive never delays or fails a circulation operation.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/proall22/library-management-system/internal/circulation"
)

const schema = `
	CREATE TABLE IF NOT EXISTS circulation_events (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		event_data JSONB NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_circulation_events_type
		ON circulation_events (event_type, occurred_at);
`

// Recorder buffers circulation events and writes them to Postgres from its
// own goroutine. It implements circulation.EventSink; Record never blocks.
// When the buffer is full the event is dropped and logged.
type Recorder struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	tracer trace.Tracer
	events chan circulation.Event
}

func NewRecorder(db *sql.DB, logger *zap.SugaredLogger) *Recorder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Recorder{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("circulation/archive"),
		events: make(chan circulation.Event, 1024),
	}
}

// EnsureSchema creates the archive table when it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	return nil
}

// Record implements circulation.EventSink.
func (r *Recorder) Record(e circulation.Event) {
	select {
	case r.events <- e:
	default:
		r.logger.Warnw("archive buffer full, dropping event", "type", e.Type)
	}
}

// Run consumes the buffer until the context is cancelled, then drains
// whatever is already queued.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case e := <-r.events:
			r.insert(ctx, e)
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-r.events:
			r.insert(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) insert(ctx context.Context, e circulation.Event) {
	ctx, span := r.tracer.Start(ctx, "archive.insert",
		trace.WithAttributes(attribute.String("event.type", e.Type)),
	)
	defer span.End()

	data, err := json.Marshal(e.Data)
	if err != nil {
		r.logger.Errorw("marshal event", "type", e.Type, "error", err)
		return
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO circulation_events (event_type, event_data, occurred_at)
		VALUES ($1, $2, $3)
	`, e.Type, data, e.OccurredAt)
	if err != nil {
		r.logger.Errorw("insert event", "type", e.Type, "error", err)
	}
}
