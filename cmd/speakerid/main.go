// Command speakerid resolves the diarized speakers of one meeting to the
// participant names on its invite.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/speakerid/internal/app"
	"github.com/MrWong99/speakerid/internal/bundle"
	"github.com/MrWong99/speakerid/internal/config"
	"github.com/MrWong99/speakerid/internal/health"
	"github.com/MrWong99/speakerid/internal/observe"
	"github.com/MrWong99/speakerid/internal/resilience"
	"github.com/MrWong99/speakerid/pkg/identity"
	"github.com/MrWong99/speakerid/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/speakerid/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/speakerid/pkg/provider/embeddings/openai"
	"github.com/MrWong99/speakerid/pkg/provider/llm"
	"github.com/MrWong99/speakerid/pkg/provider/llm/anyllm"
	oachat "github.com/MrWong99/speakerid/pkg/provider/llm/openai"
)

// shutdownTimeout bounds the graceful teardown of the admin listener, the
// profile store pool and the telemetry exporters.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	bundlePath := flag.String("bundle", "", "meeting bundle: a directory of artifact JSON files or one combined JSON file")
	outPath := flag.String("out", "", "write the result JSON to this file instead of stdout")
	confirmPath := flag.String("confirm", "", "path to a confirmed-mappings JSON file; applies the confirmations instead of resolving")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	flag.Parse()

	if *bundlePath == "" {
		fmt.Fprintln(os.Stderr, "speakerid: -bundle is required")
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "speakerid: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "speakerid: %v\n", err)
		}
		return 2
	}
	if *logLevel != "" {
		lvl := config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "speakerid: invalid -log-level %q (debug, info, warn, error)\n", *logLevel)
			return 2
		}
		cfg.Observe.LogLevel = lvl
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The result JSON goes to stdout, so everything else goes to stderr.
	slog.SetDefault(newLogger(cfg.Observe.LogLevel))

	slog.Info("speakerid starting",
		"config", *configPath,
		"bundle", *bundlePath,
		"log_level", cfg.Observe.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry providers ───────────────────────────────────────────────────
	// Must come before anything that resolves the default metrics instance, or
	// the instruments bind to the no-op global meter.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "speakerid"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate provider chains ───────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 2
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	// ── Admin listener (optional) ─────────────────────────────────────────────
	var admin *http.Server
	if cfg.Observe.Listen != "" {
		admin = health.NewServer(cfg.Observe.Listen, nil, application.ReadyChecks()...)
		go func() {
			slog.Info("admin listener started", "addr", cfg.Observe.Listen)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin listener error", "error", err)
			}
		}()
	}

	// ── Load the meeting bundle ───────────────────────────────────────────────
	meeting, err := bundle.Load(ctx, *bundlePath)
	if err != nil {
		slog.Error("failed to load bundle", "path", *bundlePath, "error", err)
		return 2
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	var code int
	if *confirmPath != "" {
		code = runConfirm(ctx, application, meeting, *confirmPath, *outPath)
	} else {
		code = runResolve(ctx, application, meeting, *outPath)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin listener shutdown error", "error", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

// runResolve executes a resolution run and writes the resolution JSON.
func runResolve(ctx context.Context, application *app.App, meeting identity.Meeting, outPath string) int {
	res, err := application.Resolve(ctx, meeting)
	if err != nil {
		slog.Error("resolution failed", "meeting_id", meeting.ID, "error", err)
		return 1
	}
	if err := writeResult(outPath, res); err != nil {
		slog.Error("failed to write result", "error", err)
		return 1
	}
	return 0
}

// runConfirm applies the confirmed mappings from path and writes the
// confirmation summary JSON.
func runConfirm(ctx context.Context, application *app.App, meeting identity.Meeting, path, outPath string) int {
	confirmed, err := loadConfirmations(path)
	if err != nil {
		slog.Error("failed to load confirmations", "path", path, "error", err)
		return 2
	}

	res, err := application.Confirm(ctx, meeting, confirmed)
	if err != nil {
		slog.Error("confirmation failed", "meeting_id", meeting.ID, "error", err)
		return 1
	}
	if err := writeResult(outPath, res); err != nil {
		slog.Error("failed to write result", "error", err)
		return 1
	}
	return 0
}

// loadConfirmations reads a JSON array of confirmed speaker→name mappings.
func loadConfirmations(path string) ([]identity.ConfirmedName, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read confirmations %q: %w", path, err)
	}
	var confirmed []identity.ConfirmedName
	if err := json.Unmarshal(data, &confirmed); err != nil {
		return nil, fmt.Errorf("parse confirmations %q: %w", path, err)
	}
	if len(confirmed) == 0 {
		return nil, fmt.Errorf("confirmations %q: empty", path)
	}
	return confirmed, nil
}

// writeResult writes v as indented JSON to path, or to stdout when path is
// empty or "-".
func writeResult(path string, v any) error {
	if path == "" || path == "-" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("write %q: %w", path, err)
	}
	return f.Close()
}

// ── Provider wiring ─────────────────────────────────────────────────────────────

// builtinProviders maps capability names to the backends that ship with
// speakerid. Used for startup logging.
var builtinProviders = map[string][]string{
	"chat":       {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Chat ──────────────────────────────────────────────────────────────────
	// openai talks to the platform SDK directly. The key may come from the
	// config or the conventional environment variable.
	reg.RegisterChat("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		var opts []oachat.Option
		if entry.BaseURL != "" {
			opts = append(opts, oachat.WithBaseURL(entry.BaseURL))
		}
		return oachat.New(apiKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp and llamafile all
	// share the same pattern: optional APIKey + optional BaseURL, with the
	// any-llm library falling back to the backend's environment variable.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterChat(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterChat("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(apiKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the configured chat and embeddings chains: the
// primary backend wrapped in a [resilience] fallback group with one circuit
// breaker per backend, attempts recorded as provider metrics.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if chain := cfg.Providers.Chat; chain.Configured() {
		primary, err := reg.CreateChat(chain.Primary)
		if err != nil {
			return nil, fmt.Errorf("create chat provider %q: %w", chain.Primary.Name, err)
		}
		fb := resilience.NewLLMFallback(primary, chain.Primary.Name, resilience.FallbackConfig{
			OnAttempt: resilience.AttemptRecorder(nil, "chat"),
		})
		for _, entry := range chain.Fallbacks {
			p, err := reg.CreateChat(entry)
			if err != nil {
				return nil, fmt.Errorf("create chat fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
		}
		ps.Chat = fb
		slog.Info("chat chain ready", "backends", fb.Backends())
	}

	if chain := cfg.Providers.Embeddings; chain.Configured() {
		primary, err := reg.CreateEmbeddings(chain.Primary)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", chain.Primary.Name, err)
		}
		fb := resilience.NewEmbeddingsFallback(primary, chain.Primary.Name, resilience.FallbackConfig{
			OnAttempt: resilience.AttemptRecorder(nil, "embeddings"),
		})
		for _, entry := range chain.Fallbacks {
			p, err := reg.CreateEmbeddings(entry)
			if err != nil {
				return nil, fmt.Errorf("create embeddings fallback %q: %w", entry.Name, err)
			}
			if err := fb.AddFallback(entry.Name, p); err != nil {
				return nil, fmt.Errorf("add embeddings fallback %q: %w", entry.Name, err)
			}
		}
		ps.Embeddings = fb
		slog.Info("embeddings chain ready", "backends", fb.Backends())
	}

	return ps, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level.Level()}))
}
