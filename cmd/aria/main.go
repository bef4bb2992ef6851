// Command aria is the voice-assistant runtime: it loads the configuration,
// assembles the component graph, and serves the monitoring and admin surface
// until a shutdown signal arrives. With -interactive it also reads utterances
// from stdin and runs them through the text pipeline.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/aria/internal/action"
	"github.com/MrWong99/aria/internal/admin"
	"github.com/MrWong99/aria/internal/component"
	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/conversation"
	"github.com/MrWong99/aria/internal/conversation/archive"
	"github.com/MrWong99/aria/internal/health"
	"github.com/MrWong99/aria/internal/intent"
	"github.com/MrWong99/aria/internal/intent/handlers"
	"github.com/MrWong99/aria/internal/observe"
	"github.com/MrWong99/aria/internal/workflow"
	"github.com/MrWong99/aria/pkg/provider/asr"
	"github.com/MrWong99/aria/pkg/provider/asr/voskws"
	"github.com/MrWong99/aria/pkg/provider/asr/whispercpp"
	"github.com/MrWong99/aria/pkg/provider/llm"
	"github.com/MrWong99/aria/pkg/provider/llm/anyllm"
	"github.com/MrWong99/aria/pkg/provider/llm/openai"
	"github.com/MrWong99/aria/pkg/provider/nlu"
	"github.com/MrWong99/aria/pkg/provider/nlu/keyword"
	"github.com/MrWong99/aria/pkg/provider/playback"
	"github.com/MrWong99/aria/pkg/provider/playback/cmdline"
	playbackconsole "github.com/MrWong99/aria/pkg/provider/playback/console"
	"github.com/MrWong99/aria/pkg/provider/textproc"
	"github.com/MrWong99/aria/pkg/provider/textproc/basic"
	"github.com/MrWong99/aria/pkg/provider/trigger"
	"github.com/MrWong99/aria/pkg/provider/trigger/energy"
	"github.com/MrWong99/aria/pkg/provider/tts"
	"github.com/MrWong99/aria/pkg/provider/tts/coqui"
	ttsconsole "github.com/MrWong99/aria/pkg/provider/tts/console"
	"github.com/MrWong99/aria/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	interactive := flag.Bool("interactive", false, "read utterances from stdin and answer on the console")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aria: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aria: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.System.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("aria starting",
		"config", *configPath,
		"language", cfg.System.Language,
		"log_level", cfg.System.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "aria"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Provider factories ────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Component graph ───────────────────────────────────────────────────────
	manager := component.NewManager(cfg, reg, metrics)
	manager.Register(component.NewVoiceTrigger())
	manager.Register(component.NewASR())
	manager.Register(component.NewTextProcessor())
	manager.Register(component.NewNLU())
	manager.Register(component.NewLLM())
	manager.Register(component.NewTTS())
	manager.Register(component.NewAudio())
	manager.Register(component.NewMonitoring())
	manager.Register(component.NewNLUAnalysis())
	manager.Register(component.NewConfiguration(*configPath))

	if err := manager.Initialize(ctx); err != nil {
		slog.Error("component startup failed", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		manager.Shutdown(shutdownCtx)
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Conversation store ────────────────────────────────────────────────────
	var storeOpts []conversation.StoreOption
	if cfg.Conversation.Archive.Enabled {
		pg, err := archive.NewPostgresArchive(ctx, cfg.Conversation.Archive.PostgresDSN)
		if err != nil {
			slog.Error("conversation archive unavailable", "err", err)
			return 1
		}
		storeOpts = append(storeOpts, conversation.WithArchiver(pg))
		slog.Info("conversation archive connected")
	}
	sessions := conversation.NewStore(cfg.Conversation, metrics, storeOpts...)
	go sessions.Run(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sessions.Close(closeCtx)
	}()

	// ── Actions and intent handlers ───────────────────────────────────────────
	policies := make(map[string]action.Policy, len(cfg.IntentSystem.ActionPolicies))
	for domain, policy := range cfg.IntentSystem.ActionPolicies {
		policies[domain] = action.Policy(policy)
	}
	coordinator := action.NewCoordinator(metrics, policies)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coordinator.Shutdown(shutdownCtx)
	}()

	ttsComp := lookup[*component.TTS](manager, "tts")
	audioComp := lookup[*component.Audio](manager, "audio")
	llmComp := lookup[*component.LLM](manager, "llm")

	registry := intent.NewRegistry(metrics, cfg.IntentSystem.HandlerDeadline, cfg.IntentSystem.FallbackHandler)
	if err := registerHandlers(registry, cfg, coordinator, ttsComp, audioComp, llmComp); err != nil {
		slog.Error("intent handler registration failed", "err", err)
		return 1
	}

	// ── Pipeline engine ───────────────────────────────────────────────────────
	engine := workflow.NewEngine(cfg, sessions, registry, metrics, workflow.Components{
		Trigger:  lookup[*component.VoiceTrigger](manager, "voice_trigger"),
		ASR:      lookup[*component.ASR](manager, "asr"),
		TextProc: lookup[*component.TextProcessor](manager, "text_processor"),
		NLU:      lookup[*component.NLU](manager, "nlu"),
		LLM:      llmComp,
		TTS:      ttsComp,
		Audio:    audioComp,
		Analysis: lookup[*component.NLUAnalysis](manager, "nlu_analysis"),
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	if cfgComp := lookup[*component.Configuration](manager, "configuration"); cfgComp != nil && cfg.Configuration.WatchInterval > 0 {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyReload(config.Diff(old, new), level, manager)
		}, config.WithInterval(cfg.Configuration.WatchInterval))
		if err != nil {
			slog.Error("config watcher failed", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	// ── Monitoring and admin HTTP surface ─────────────────────────────────────
	var httpServer *http.Server
	if mon := lookup[*component.Monitoring](manager, "monitoring"); mon != nil {
		httpServer = monitoringServer(mon.ListenAddr(), metrics, manager, sessions, coordinator)
		go func() {
			slog.Info("monitoring listening", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("monitoring server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("aria ready",
		"profile", manager.DeploymentProfile(),
		"components", manager.Active(),
	)

	// ── Console loop (optional) ───────────────────────────────────────────────
	if *interactive {
		go consoleLoop(ctx, engine)
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping")
	return 0
}

// lookup fetches an active component by name as its concrete type. Disabled
// components yield nil.
func lookup[C component.Component](m *component.Manager, name string) C {
	var zero C
	c := m.Get(name)
	if c == nil {
		return zero
	}
	typed, ok := c.(C)
	if !ok {
		return zero
	}
	return typed
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the factory for every provider that ships
// with aria. Factories read their settings from the typed config sections;
// whether a provider is built at all is the component host's decision.
func registerBuiltinProviders(reg *config.Registry) {
	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("coqui", func(cfg *config.Config) (tts.Provider, error) {
		pc := cfg.TTS.Providers.Coqui
		var opts []coqui.Option
		if pc.Language != "" {
			opts = append(opts, coqui.WithLanguage(pc.Language))
		}
		if pc.APIMode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(pc.APIMode)))
		}
		return coqui.New(pc.ServerURL, opts...)
	})
	reg.RegisterTTS("console", func(*config.Config) (tts.Provider, error) {
		return ttsconsole.New(), nil
	})

	// ── Playback ──────────────────────────────────────────────────────────────
	reg.RegisterPlayback("cmdline", func(cfg *config.Config) (playback.Provider, error) {
		pc := cfg.Audio.Providers.Cmdline
		var opts []cmdline.Option
		if pc.Binary != "" {
			opts = append(opts, cmdline.WithBinary(pc.Binary))
		}
		if len(pc.ExtraArgs) > 0 {
			opts = append(opts, cmdline.WithExtraArgs(pc.ExtraArgs...))
		}
		return cmdline.New(opts...), nil
	})
	reg.RegisterPlayback("console", func(*config.Config) (playback.Provider, error) {
		return playbackconsole.New(), nil
	})

	// ── ASR ───────────────────────────────────────────────────────────────────
	reg.RegisterASR("whispercpp", func(cfg *config.Config) (asr.Provider, error) {
		pc := cfg.ASR.Providers.WhisperCpp
		var opts []whispercpp.Option
		if pc.Language != "" {
			opts = append(opts, whispercpp.WithLanguage(pc.Language))
		}
		return whispercpp.New(pc.ModelPath, opts...)
	})
	reg.RegisterASR("voskws", func(cfg *config.Config) (asr.Provider, error) {
		pc := cfg.ASR.Providers.VoskWS
		var opts []voskws.Option
		if pc.URL != "" {
			opts = append(opts, voskws.WithURL(pc.URL))
		}
		return voskws.New(opts...), nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(cfg *config.Config) (llm.Provider, error) {
		pc := cfg.LLM.Providers.OpenAI
		var opts []openai.Option
		if pc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pc.BaseURL))
		}
		if pc.Organization != "" {
			opts = append(opts, openai.WithOrganization(pc.Organization))
		}
		return openai.New(pc.APIKey, pc.Model, opts...)
	})
	reg.RegisterLLM("anyllm", func(cfg *config.Config) (llm.Provider, error) {
		pc := cfg.LLM.Providers.AnyLLM
		var opts []anyllmlib.Option
		if pc.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(pc.APIKey))
		}
		if pc.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(pc.BaseURL))
		}
		return anyllm.New(pc.Backend, pc.Model, opts...)
	})

	// ── Voice trigger ─────────────────────────────────────────────────────────
	reg.RegisterTrigger("energy", func(cfg *config.Config) (trigger.Provider, error) {
		pc := cfg.VoiceTrigger.Providers.Energy
		var opts []energy.Option
		if pc.RMSThreshold > 0 {
			opts = append(opts, energy.WithRMSThreshold(pc.RMSThreshold))
		}
		if pc.ActivationMs > 0 {
			opts = append(opts, energy.WithActivationMs(pc.ActivationMs))
		}
		if pc.PreRollMs > 0 {
			opts = append(opts, energy.WithPreRollMs(pc.PreRollMs))
		}
		return energy.New(opts...), nil
	})

	// ── NLU ───────────────────────────────────────────────────────────────────
	reg.RegisterNLU("keyword", func(cfg *config.Config) (nlu.Provider, error) {
		pc := cfg.NLU.Providers.Keyword
		patterns := make([]keyword.IntentPattern, 0, len(pc.Patterns))
		for _, pat := range pc.Patterns {
			patterns = append(patterns, keyword.IntentPattern{
				Name:      pat.Name,
				Keywords:  pat.Keywords,
				Slots:     pat.Slots,
				Languages: pat.Languages,
			})
		}
		var opts []keyword.Option
		if pc.PhoneticThreshold > 0 {
			opts = append(opts, keyword.WithPhoneticThreshold(pc.PhoneticThreshold))
		}
		if pc.FuzzyThreshold > 0 {
			opts = append(opts, keyword.WithFuzzyThreshold(pc.FuzzyThreshold))
		}
		return keyword.New(patterns, opts...), nil
	})

	// ── Text processor ────────────────────────────────────────────────────────
	reg.RegisterTextProc("basic", func(*config.Config) (textproc.Provider, error) {
		return basic.New(), nil
	})
}

// ── Intent handlers ───────────────────────────────────────────────────────────

// registerHandlers activates the configured built-in handlers. The fallback
// handler is always registered so unhandled intents get a reply.
func registerHandlers(registry *intent.Registry, cfg *config.Config, coordinator *action.Coordinator,
	ttsComp *component.TTS, audioComp *component.Audio, llmComp *component.LLM) error {

	names := cfg.IntentSystem.Handlers
	if len(names) == 0 {
		names = []string{"timer", "clock"}
	}
	wanted := make(map[string]bool, len(names)+1)
	for _, name := range names {
		wanted[name] = true
	}
	wanted[cfg.IntentSystem.FallbackHandler] = true

	for name := range wanted {
		var h intent.Handler
		switch name {
		case "timer":
			timer := handlers.NewTimer(coordinator)
			timer.Fired = timerAnnouncer(cfg, ttsComp, audioComp)
			h = timer
		case "clock":
			h = handlers.NewClock()
		case "conversation":
			var chatter handlers.Chatter
			if llmComp != nil {
				chatter = llmComp
			}
			h = handlers.NewConversation(chatter)
		default:
			return fmt.Errorf("unknown intent handler %q", name)
		}
		if err := registry.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// timerAnnouncer speaks a finished timer through the output components.
// Without a voice path it only logs; the completion still lands in the
// session's action history.
func timerAnnouncer(cfg *config.Config, ttsComp *component.TTS, audioComp *component.Audio) func(*conversation.Context, string) {
	return func(session *conversation.Context, label string) {
		text := "Your timer is done."
		if label != "" {
			text = fmt.Sprintf("Your %s timer is done.", label)
		}
		if ttsComp == nil || audioComp == nil {
			slog.Info("timer fired", "session", session.SessionID(), "label", label)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		outPath := filepath.Join(cfg.System.TempAudioDir, uuid.NewString()+".wav")
		defer os.Remove(outPath)
		if err := ttsComp.SynthesizeToFile(ctx, text, outPath, types.SynthesisOptions{Language: session.Language()}); err != nil {
			slog.Warn("timer announcement synthesis failed", "err", err)
			return
		}
		if err := audioComp.PlayFile(ctx, outPath, types.PlaybackOptions{}); err != nil {
			slog.Warn("timer announcement playback failed", "err", err)
		}
	}
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyReload applies the hot-reloadable parts of a config change: log level
// and per-component default providers. Enablement changes need a restart and
// are only reported.
func applyReload(diff config.ConfigDiff, level *slog.LevelVar, manager *component.Manager) {
	if diff.LogLevelChanged {
		level.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	for _, cd := range diff.ComponentChanges {
		if cd.EnabledChanged {
			slog.Warn("component enablement changed; restart required to apply",
				"component", cd.Kind, "enabled", cd.NowEnabled)
		}
		if !cd.DefaultProviderChanged {
			continue
		}
		if err := setDefaultProvider(manager, cd.Kind, cd.NewDefaultProvider); err != nil {
			slog.Warn("default provider switch failed",
				"component", cd.Kind, "provider", cd.NewDefaultProvider, "err", err)
			continue
		}
		slog.Info("default provider switched", "component", cd.Kind, "provider", cd.NewDefaultProvider)
	}
}

// setDefaultProvider routes a reload to the matching component.
func setDefaultProvider(manager *component.Manager, kind, name string) error {
	switch kind {
	case "tts":
		if c := lookup[*component.TTS](manager, kind); c != nil {
			return c.SetDefaultProvider(name)
		}
	case "audio":
		if c := lookup[*component.Audio](manager, kind); c != nil {
			return c.SetDefaultProvider(name)
		}
	case "asr":
		if c := lookup[*component.ASR](manager, kind); c != nil {
			return c.SetDefaultProvider(name)
		}
	case "llm":
		if c := lookup[*component.LLM](manager, kind); c != nil {
			return c.SetDefaultProvider(name)
		}
	case "voice_trigger":
		if c := lookup[*component.VoiceTrigger](manager, kind); c != nil {
			return c.SetDefaultProvider(name)
		}
	case "nlu":
		if c := lookup[*component.NLU](manager, kind); c != nil {
			return c.SetDefaultProvider(name)
		}
	case "text_processor":
		// The text processor chains every provider; there is no default to
		// switch.
		return errors.New("text_processor has no default provider")
	}
	return component.ErrDisabled
}

// ── Monitoring surface ────────────────────────────────────────────────────────

// monitoringServer assembles the metrics, health, and admin endpoints behind
// the observability middleware.
func monitoringServer(addr string, metrics *observe.Metrics, manager *component.Manager,
	sessions *conversation.Store, coordinator *action.Coordinator) *http.Server {

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	checkers := []health.Checker{
		health.Components(manager),
		health.Sessions(sessions, 0),
	}
	health.New(checkers, health.WithProfile(manager.DeploymentProfile)).Register(mux)

	if cfgComp := lookup[*component.Configuration](manager, "configuration"); cfgComp != nil {
		srv := &admin.Server{
			Store:    cfgComp.Store(),
			Manager:  manager,
			Sessions: sessions,
			Actions:  coordinator,
			Analysis: lookup[*component.NLUAnalysis](manager, "nlu_analysis"),
		}
		srv.Register(mux)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Console loop ──────────────────────────────────────────────────────────────

// consoleLoop feeds stdin lines through the text pipeline and prints the
// replies. One session spans the whole run.
func consoleLoop(ctx context.Context, engine *workflow.Engine) {
	sessionID := uuid.NewString()
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("aria console — type an utterance, Ctrl+D to stop")

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := scanner.Text()
		if text == "" {
			continue
		}
		resp := engine.ProcessTextInput(ctx, text, workflow.Request{
			SessionID:  sessionID,
			Source:     "cli",
			WantsAudio: true,
		})
		fmt.Printf("aria> %s\n", resp.Result.Text)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("console input error", "err", err)
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

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
