package eventlog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/openvigil/vigil/detection-server/internal/logger"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS detection_events (
	id BIGSERIAL PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	session_id VARCHAR(64),
	user_id VARCHAR(255),
	object_type VARCHAR(64) NOT NULL,
	confidence REAL NOT NULL
)`

const createEventsIndex = `
CREATE INDEX IF NOT EXISTS idx_detection_events_created_at
	ON detection_events (created_at)`

// Postgres stores detection events in a detection_events table, creating
// the schema on first connect. This is the server operator's durable sink,
// independent of any per-session credentials.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema() error {
	if _, err := p.db.Exec(createEventsTable); err != nil {
		return fmt.Errorf("create detection_events table: %w", err)
	}
	if _, err := p.db.Exec(createEventsIndex); err != nil {
		logger.Warn("EventLog", "Failed to create detection_events index: %v", err)
	}
	return nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) LogEvent(ctx context.Context, ev Event) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO detection_events (created_at, session_id, user_id, object_type, confidence)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.CreatedAt, ev.SessionID, ev.UserID, ev.ObjectType, ev.Confidence)
	if err != nil {
		return fmt.Errorf("insert detection event: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error { return p.db.Close() }
