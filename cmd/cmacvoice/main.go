// Command cmacvoice runs the push-to-talk voice query server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/cojovi/cmac-chat-module-win86/internal/config"
	"github.com/cojovi/cmac-chat-module-win86/internal/health"
	"github.com/cojovi/cmac-chat-module-win86/internal/ledger"
	"github.com/cojovi/cmac-chat-module-win86/internal/observe"
	"github.com/cojovi/cmac-chat-module-win86/internal/pipeline"
	"github.com/cojovi/cmac-chat-module-win86/internal/server"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/llm"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/llm/anyllm"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/llm/openwebui"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/stt"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/stt/whisper"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/tts"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cmacvoice: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cmacvoice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("cmacvoice starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "cmacvoice",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	transcriber, model, synth, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	captureFormat := audio.Format{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		BitsPerSample: cfg.Audio.BitDepth,
	}
	history := ledger.New(ledger.WithCapacity(cfg.Conversation.MaxTurns))
	bridge := server.NewBridge(captureFormat)

	pipeOpts := []pipeline.Option{
		pipeline.WithLedger(history),
		pipeline.WithSystemPrompt(cfg.Conversation.SystemPrompt),
		pipeline.WithContextBudget(cfg.Conversation.WindowChars),
		pipeline.WithCaptureFormat(captureFormat),
		pipeline.WithMaxCaptureDuration(cfg.Audio.MaxCaptureDuration.Std()),
		pipeline.WithRetryPolicy(cfg.Retry.Policy()),
		pipeline.WithTimeouts(pipeline.Timeouts{
			Transcribe: cfg.Timeouts.Transcribe.Std(),
			Complete:   cfg.Timeouts.Complete.Std(),
			Synthesize: cfg.Timeouts.Synthesize.Std(),
		}),
	}
	if synth != nil {
		pipeOpts = append(pipeOpts, pipeline.WithSynthesizer(synth))
	}
	pipe := pipeline.New(bridge.Microphone(), bridge.Speaker(), transcriber, model, pipeOpts...)

	// ── HTTP server ───────────────────────────────────────────────────────────
	checkers := []health.Checker{
		health.ProviderChecker("stt", transcriber),
		health.ProviderChecker("llm", model),
	}
	var srvOpts []server.Option
	if synth != nil {
		checkers = append(checkers, health.ProviderChecker("tts", synth))
		srvOpts = append(srvOpts, server.WithVoiceControl(synth))
	}
	srvOpts = append(srvOpts, server.WithHealthCheckers(checkers...))
	srv := server.New(pipe, bridge, srvOpts...)

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(pipe, logLevel, config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	var certFile, keyFile string
	if cfg.Server.TLS != nil {
		certFile, keyFile = cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
	}
	if err := srv.ListenAndServe(ctx, cfg.Server.ListenAddr, certFile, keyFile); err != nil &&
		!errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	if err := pipe.Close(); err != nil {
		slog.Warn("pipeline close error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// applyConfigChange applies the hot-reloadable subset of a config update.
func applyConfigChange(pipe *pipeline.Pipeline, logLevel *slog.LevelVar, d config.ConfigDiff) {
	if !d.Any() {
		return
	}
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.SystemPromptChanged {
		pipe.SetSystemPrompt(d.NewSystemPrompt)
		slog.Info("system prompt updated")
	}
	if d.RetryChanged {
		pipe.SetRetryPolicy(d.NewRetry.Policy())
		slog.Info("retry policy updated")
	}
	if d.VoiceChanged {
		slog.Warn("voice configuration changed — restart to apply")
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.APIKey != "" {
			opts = append(opts, whisper.WithAPIKey(entry.APIKey))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openwebui", func(entry config.ProviderEntry) (llm.Provider, error) {
		return openwebui.New(entry.BaseURL, entry.APIKey, entry.Model)
	})

	// The remote backends share the same pattern: optional APIKey + optional
	// BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		stability, okS := optFloat(entry.Options, "stability")
		similarity, okB := optFloat(entry.Options, "similarity_boost")
		if okS || okB {
			vs := tts.VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
			if okS {
				vs.Stability = stability
			}
			if okB {
				vs.SimilarityBoost = similarity
			}
			opts = append(opts, elevenlabs.WithVoiceSettings(vs))
		}
		return elevenlabs.New(entry.APIKey, entry.Voice, opts...)
	})
}

// buildProviders instantiates the configured providers. A missing TTS entry
// is not an error: the pipeline runs text-only.
func buildProviders(cfg *config.Config, reg *config.Registry) (stt.Transcriber, llm.Provider, tts.Synthesizer, error) {
	transcriber, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	model, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	var synth tts.Synthesizer
	if cfg.Providers.TTS.Name != "" {
		synth, err = reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
		}
		slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)
	} else {
		slog.Warn("no tts provider configured — replies will be text-only")
	}

	return transcriber, model, synth, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        cmacvoice — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Capture format  : %-19s ║\n",
		fmt.Sprintf("%d Hz / %d ch / %d bit", cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.BitDepth))
	fmt.Printf("║  History turns   : %-19d ║\n", cfg.Conversation.MaxTurns)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar allows the level
// to be changed at runtime by the config watcher.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optFloat extracts a numeric value from a provider Options map. YAML decodes
// bare numbers as int or float64 depending on the literal.
func optFloat(opts map[string]any, key string) (float64, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
