package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"passnice/internal/attempts"
	"passnice/internal/components/chrono"
	"passnice/internal/components/telemetry"
	"passnice/internal/mirror"
	"passnice/internal/scrapers/checkplus"
)

type Config struct {
	Carrier           string  `json:"carrier"`
	Proxy             string  `json:"proxy"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	ReportTracer      bool    `json:"report_tracer"`
	// nil keeps the default (enabled)
	BrowserFingerprint *bool               `json:"browser_fingerprint"`
	Endpoints          checkplus.Endpoints `json:"endpoints"`
	MirrorDir          string              `json:"mirror_dir"`
	DumpDir            string              `json:"dump_dir"`
	Database           attempts.Config     `json:"database"`
	Telemetry          telemetry.Config    `json:"telemetry"`
	Verbose            bool                `json:"verbose"`
}

func (c Config) HasDatabase() bool {
	return c.Database.File != "" || c.Database.Url != ""
}

// SessionOptions maps the config onto checkplus options, leaving the
// observers and the listener to the caller.
func (c Config) SessionOptions() checkplus.Options {
	opts := checkplus.DefaultOptions()
	opts.Endpoints = c.Endpoints
	opts.Proxy = c.Proxy
	opts.ReportTracer = c.ReportTracer
	if c.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	}
	if c.RequestsPerSecond > 0 {
		opts.RequestsPerSecond = c.RequestsPerSecond
	}
	if c.BrowserFingerprint != nil {
		opts.BrowserFingerprint = *c.BrowserFingerprint
	}
	return opts
}

// environment is everything a command needs to run a session.
type environment struct {
	Config Config
	Tel    telemetry.API
	Time   chrono.API
}

// openSession builds a session wired to the configured observers and attempt
// log. The returned cleanup must always be called.
func (env environment) openSession(ctx context.Context, carrier checkplus.Carrier) (*checkplus.Session, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err := closers[i]()
			if err != nil {
				env.Tel.ReportWarning("cli.cleanup", err)
			}
		}
	}

	opts := env.Config.SessionOptions()
	opts.Telemetry = env.Tel
	opts.Time = env.Time

	var observers checkplus.Observers
	if env.Config.MirrorDir != "" {
		assetMirror, err := mirror.NewAssetMirror(env.Config.MirrorDir, env.Tel)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open mirror: %w", err)
		}
		observers = append(observers, assetMirror)
	}
	if env.Config.DumpDir != "" {
		dump, err := mirror.NewDumpObserver(env.Config.DumpDir, env.Time, env.Tel)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open dump dir: %w", err)
		}
		observers = append(observers, dump)
	}
	if len(observers) > 0 {
		opts.Observer = observers
	}

	if env.Config.HasDatabase() {
		db, err := env.Config.Database.OpenDB(ctx)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open attempt log: %w", err)
		}
		closers = append(closers, db.Close)
		opts.Listener = attempts.NewStore(db, env.Tel)
	}

	session, err := checkplus.New(carrier, opts)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, session.Close)
	return session, cleanup, nil
}

var errNoDatabase = errors.New("no attempt log configured, set `database` in the config or pass --db")

func (env environment) openStore(ctx context.Context) (attempts.Store, *sql.DB, error) {
	if !env.Config.HasDatabase() {
		return attempts.Store{}, nil, errNoDatabase
	}
	db, err := env.Config.Database.OpenDB(ctx)
	if err != nil {
		return attempts.Store{}, nil, err
	}
	return attempts.NewStore(db, env.Tel), db, nil
}
