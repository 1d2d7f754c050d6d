// Package app wires the speakerid subsystems into a running service.
//
// The App struct owns the full lifecycle: New connects the profile store and
// assembles the resolution engine and confirmer from config, Resolve executes
// a run under the per-meeting run manager, Confirm applies user-corrected
// mappings, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithProfileStore,
// WithJudge, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/speakerid/internal/config"
	"github.com/MrWong99/speakerid/internal/confirm"
	"github.com/MrWong99/speakerid/internal/engine"
	"github.com/MrWong99/speakerid/internal/health"
	"github.com/MrWong99/speakerid/internal/observe"
	"github.com/MrWong99/speakerid/internal/reason"
	"github.com/MrWong99/speakerid/pkg/identity"
	"github.com/MrWong99/speakerid/pkg/profile"
	"github.com/MrWong99/speakerid/pkg/profile/postgres"
	"github.com/MrWong99/speakerid/pkg/provider/embeddings"
	"github.com/MrWong99/speakerid/pkg/provider/llm"
)

// Providers holds one interface value per remote capability. Nil means the
// capability is not configured and the pipeline degrades around it. Populated
// by main.go via the config registry, wrapped in failover chains.
type Providers struct {
	Chat       llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves resolution and confirmation
// requests for one process.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store     profile.Store
	pg        *postgres.Store // concrete handle for Ping; nil when injected or absent
	judge     engine.Judge
	engine    *engine.Engine
	confirmer *confirm.Confirmer
	runs      *RunManager
	metrics   *observe.Metrics

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProfileStore injects a profile store instead of opening one from config.
func WithProfileStore(s profile.Store) Option {
	return func(a *App) { a.store = s }
}

// WithJudge injects a mention judge instead of building a reasoner from the
// chat provider.
func WithJudge(j engine.Judge) Option {
	return func(a *App) { a.judge = j }
}

// WithMetrics overrides the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry and wrapped in
// failover chains). Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		runs:      NewRunManager(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Profile store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Mention judge ─────────────────────────────────────────────────
	a.initJudge()

	// ── 3. Resolution engine ─────────────────────────────────────────────
	a.engine = engine.New(a.engineOptions()...)

	// ── 4. Confirmer ─────────────────────────────────────────────────────
	if a.store != nil {
		a.confirmer = confirm.New(a.store, a.confirmOptions()...)
	}

	return a, nil
}

// initStore opens the PostgreSQL profile store, unless one was injected or no
// DSN is configured. Without a store the engine runs without auto-matching
// and confirmations are rejected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}
	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		slog.Info("no profile store configured; auto-matching disabled")
		return nil
	}

	pg, err := postgres.NewStore(ctx, dsn, postgres.Dimensions{
		Voice: a.cfg.Store.VoiceDimensions,
		Text:  a.cfg.Store.TextDimensions,
	})
	if err != nil {
		return err
	}
	a.pg = pg
	a.store = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return nil
}

// initJudge builds the mention reasoner over the chat chain, unless a judge
// was injected or no chat provider is configured.
func (a *App) initJudge() {
	if a.judge != nil || a.providers.Chat == nil {
		return
	}

	var opts []reason.Option
	if a.cfg.Reasoner.Temperature > 0 {
		opts = append(opts, reason.WithTemperature(a.cfg.Reasoner.Temperature))
	}
	a.judge = reason.New(a.providers.Chat, opts...)
}

// engineOptions translates config and wired subsystems into engine options.
// Zero config values are simply not passed, so the engine's own defaults
// apply.
func (a *App) engineOptions() []engine.Option {
	opts := []engine.Option{engine.WithMetrics(a.metrics)}

	if a.store != nil {
		opts = append(opts, engine.WithProfileStore(a.store))
	}
	if a.providers.Embeddings != nil {
		opts = append(opts, engine.WithEmbedder(a.providers.Embeddings))
	}
	if a.judge != nil {
		opts = append(opts, engine.WithJudge(a.judge))
	}
	if t := a.cfg.Matcher.VoiceThreshold; t > 0 {
		opts = append(opts, engine.WithVoiceThreshold(t))
	}
	if t := a.cfg.Matcher.TextThreshold; t > 0 {
		opts = append(opts, engine.WithTextThreshold(t))
	}
	if n := a.cfg.Matcher.MinUtterances; n > 0 {
		opts = append(opts, engine.WithMinUtterances(n))
	}
	if d := a.cfg.Reasoner.CallTimeoutOrDefault(0); d > 0 {
		opts = append(opts, engine.WithJudgeTimeout(d))
	}

	return opts
}

func (a *App) confirmOptions() []confirm.Option {
	opts := []confirm.Option{confirm.WithMetrics(a.metrics)}

	if a.providers.Embeddings != nil {
		opts = append(opts, confirm.WithEmbedder(a.providers.Embeddings))
	}
	if n := a.cfg.Confirm.MaxSampleTexts; n > 0 {
		opts = append(opts, confirm.WithMaxSampleTexts(n))
	}

	return opts
}

// ─── Operations ──────────────────────────────────────────────────────────────

// Resolve runs the resolution pipeline for one meeting. The meeting is
// claimed in the run manager for the duration: a Resolve or Confirm arriving
// while another run holds the same meeting fails with [*ActiveRunError].
func (a *App) Resolve(ctx context.Context, meeting identity.Meeting) (*identity.Resolution, error) {
	info, err := a.runs.Begin(meeting.ID)
	if err != nil {
		return nil, err
	}
	defer a.runs.End(meeting.ID)

	slog.Info("resolution run started",
		"run_id", info.RunID,
		"meeting_id", meeting.ID,
		"speakers", len(meeting.Diarization.Labels()),
		"mentions", len(meeting.Mentions),
	)

	res, err := a.engine.Resolve(ctx, meeting)
	if err != nil {
		slog.Error("resolution run failed",
			"run_id", info.RunID,
			"meeting_id", meeting.ID,
			"error", err,
		)
		return nil, err
	}

	slog.Info("resolution run finished",
		"run_id", info.RunID,
		"meeting_id", meeting.ID,
		"duration", time.Since(info.StartedAt),
	)
	return res, nil
}

// Confirm applies user-confirmed speaker names to the profile store. It takes
// the same per-meeting claim as Resolve, so a confirmation can never
// interleave with a resolution run (or another confirmation) for the same
// meeting.
func (a *App) Confirm(ctx context.Context, meeting identity.Meeting, confirmed []identity.ConfirmedName) (*confirm.Result, error) {
	if a.confirmer == nil {
		return nil, fmt.Errorf("app: confirm requires a profile store; set store.postgres_dsn")
	}

	info, err := a.runs.Begin(meeting.ID)
	if err != nil {
		return nil, err
	}
	defer a.runs.End(meeting.ID)

	slog.Info("confirmation started",
		"run_id", info.RunID,
		"meeting_id", meeting.ID,
		"confirmed", len(confirmed),
	)

	return a.confirmer.Apply(ctx, meeting, confirmed)
}

// Runs exposes the run manager, letting callers inspect in-flight runs.
func (a *App) Runs() *RunManager {
	return a.runs
}

// ReadyChecks returns readiness probes for the admin listener, one per wired
// dependency. Unconfigured capabilities are omitted: a degraded setup is
// still a ready one.
func (a *App) ReadyChecks() []health.Checker {
	var checks []health.Checker

	if a.pg != nil {
		checks = append(checks, health.PingCheck("profile-store", a.pg))
	}
	if a.providers.Chat != nil {
		checks = append(checks, configuredCheck("chat-provider"))
	}
	if a.providers.Embeddings != nil {
		checks = append(checks, configuredCheck("embeddings-provider"))
	}

	return checks
}

// configuredCheck is a static probe: the capability was wired at startup, so
// its presence in the /readyz checks map tells operators what this process
// can do.
func configuredCheck(name string) health.Checker {
	return health.Checker{
		Name:  name,
		Check: func(context.Context) error { return nil },
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "active_runs", a.runs.ActiveCount())

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
