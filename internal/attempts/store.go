// Package attempts keeps a log of every verification operation so failed
// sessions can be looked at after the process exits.
package attempts

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	"passnice/internal/components/assert"
	"passnice/internal/components/telemetry"
	"passnice/internal/scrapers/checkplus"
	"passnice/pkg/migrations"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

//go:embed schema.sql
var Schema string

const report_attempts_record = "attempts.record"

// Config selects the database, a local sqlite file or a remote libsql url.
type Config struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Config) OpenDB(ctx context.Context) (*sql.DB, error) {
	if config.Url == "" {
		if config.File == "" {
			return nil, fmt.Errorf("a database file or url was not specified")
		}
		return migrations.OpenAndMigrateDB(ctx, Schema, config.File)
	}

	values := url.Values{}
	if config.AuthToken != "" {
		values.Add("authToken", config.AuthToken)
	}
	db, err := sql.Open("libsql", config.Url+"?"+values.Encode())
	if err != nil {
		return nil, err
	}
	err = migrations.Migrate(ctx, db, Schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type Attempt struct {
	Id        int64
	SessionId string
	Carrier   string
	Operation string
	State     string
	Success   bool
	Reason    string
	Message   string
	Error     string
	Time      time.Time
}

// Store writes attempts into the `attempt` table, it is a checkplus.Listener.
type Store struct {
	db  *sql.DB
	tel telemetry.API
}

func NewStore(db *sql.DB, tel telemetry.API) Store {
	assert.NotNil(db)
	assert.NotNil(tel)
	return Store{db: db, tel: telemetry.NewScopedAPI("attempts", tel)}
}

// OnAttempt records the event, a failed write is reported and never reaches
// the session.
func (s Store) OnAttempt(ctx context.Context, event checkplus.AttemptEvent) {
	attempt := Attempt{
		SessionId: event.SessionId,
		Carrier:   event.Carrier.String(),
		Operation: event.Operation,
		State:     event.State.String(),
		Success:   event.Success,
		Reason:    event.Reason.String(),
		Message:   event.Message,
		Time:      event.Time,
	}
	if event.Err != nil {
		attempt.Error = event.Err.Error()
	}

	// a cancelled operation should still be logged
	ctx = context.WithoutCancel(ctx)
	_, err := s.Record(ctx, attempt)
	if err != nil {
		s.tel.ReportBroken(report_attempts_record, err, event.SessionId, event.Operation)
	}
}

func (s Store) Record(ctx context.Context, attempt Attempt) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO attempt (session_id, carrier, operation, state, success, reason, message, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.SessionId,
		attempt.Carrier,
		attempt.Operation,
		attempt.State,
		attempt.Success,
		attempt.Reason,
		attempt.Message,
		attempt.Error,
		attempt.Time.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}
	return res.LastInsertId()
}

type Filter struct {
	// empty matches every session
	SessionId string
	// 0 means no limit
	Limit int
}

// List returns attempts newest first.
func (s Store) List(ctx context.Context, filter Filter) ([]Attempt, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, carrier, operation, state, success, reason, message, error, created_at
		FROM attempt
		WHERE (? = '' OR session_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		filter.SessionId,
		filter.SessionId,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var createdAt int64
		err = rows.Scan(
			&a.Id,
			&a.SessionId,
			&a.Carrier,
			&a.Operation,
			&a.State,
			&a.Success,
			&a.Reason,
			&a.Message,
			&a.Error,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Time = time.UnixMilli(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
