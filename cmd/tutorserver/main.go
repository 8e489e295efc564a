// Command tutorserver is the main entry point for the voice tutoring
// session orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/glyphoxa/internal/bargein"
	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/gateway"
	"github.com/MrWong99/glyphoxa/internal/health"
	"github.com/MrWong99/glyphoxa/internal/idle"
	"github.com/MrWong99/glyphoxa/internal/llm"
	"github.com/MrWong99/glyphoxa/internal/observe"
	"github.com/MrWong99/glyphoxa/internal/resilience"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/internal/stroke/latex"
	"github.com/MrWong99/glyphoxa/internal/stt"
	"github.com/MrWong99/glyphoxa/internal/tts"
	"github.com/MrWong99/glyphoxa/internal/turn"
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
			fmt.Fprintf(os.Stderr, "tutorserver: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tutorserver: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	log := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)

	log.Info("tutorserver starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("shutdown: closer error", "error", err)
			}
		}
	}()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "tutorserver"})
	if err != nil {
		log.Error("failed to initialise observability providers", "error", err)
		return 1
	}
	closers = append(closers, func() error { return shutdownOTel(context.Background()) })
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	llmClient, err := llm.New(cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		log.Error("failed to construct llm client", "error", err)
		return 1
	}
	sttClient, err := stt.New(cfg.STT.APIKey)
	if err != nil {
		log.Error("failed to construct stt client", "error", err)
		return 1
	}
	ttsClient, err := tts.New(cfg.TTS.APIKey)
	if err != nil {
		log.Error("failed to construct tts client", "error", err)
		return 1
	}
	latexClient := latex.New(cfg.Latex.RenderURL,
		latex.WithTargetHeightRange(cfg.Latex.TargetHeightInlinePx, cfg.Latex.TargetHeightDisplayPx),
	)

	breakers := resilience.NewBreakers()

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		logConfigDiff(log, config.Diff(old, new))
	})
	if err != nil {
		log.Error("failed to start config watcher", "error", err)
		return 1
	}
	closers = append(closers, func() error { watcher.Stop(); return nil })

	// ── HTTP routes ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()

	healthHandler := health.New(
		health.Checker{Name: "llm", Check: pingURL("https://api.anthropic.com")},
		health.Checker{Name: "stt", Check: pingURL("https://api.deepgram.com")},
		health.Checker{Name: "tts", Check: pingURL("https://api.elevenlabs.io")},
		health.Checker{Name: "latex", Check: pingURL(cfg.Latex.RenderURL)},
	)
	healthHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws/{session_id}", newWSHandler(watcher, llmClient, sttClient, ttsClient, latexClient, breakers, metrics, log))

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	serverErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.TLS != nil {
			err = server.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		close(serverErr)
	}()

	printStartupSummary(cfg)
	log.Info("server ready — press Ctrl+C to shut down")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping…")
	case err, ok := <-serverErr:
		if ok && err != nil {
			log.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
		return 1
	}

	log.Info("goodbye")
	return 0
}

// ── WebSocket connection wiring ───────────────────────────────────────────────

// dispatcherFunc adapts a plain function to [idle.Dispatcher], mirroring the
// http.HandlerFunc adapter pattern — used here because the idle scheduler
// must be constructed before the turn orchestrator it dispatches into
// exists (see [gateway.Deps]'s doc comment on the construction order).
type dispatcherFunc func(turn.Event)

func (f dispatcherFunc) Submit(ev turn.Event) { f(ev) }

// newWSHandler returns the handler for GET /ws/{session_id}. Every request
// builds a fresh [session.Session], barge-in controller, STT gate, and idle
// scheduler, then hands them to [gateway.Accept] for the life of the
// connection.
func newWSHandler(
	watcher *config.Watcher,
	llmClient *llm.Client,
	sttClient *stt.Client,
	ttsClient *tts.Client,
	latexClient *latex.Client,
	breakers *resilience.Breakers,
	metrics *observe.Metrics,
	log *slog.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("session_id")
		if sessionID == "" {
			http.Error(w, "session_id required", http.StatusBadRequest)
			return
		}

		cfg := watcher.Current()
		ctx := r.Context()

		sess := session.New(sessionID, session.Config{
			BoardTopMarginY: cfg.Board.TopMarginY,
			BoardWriteX:     cfg.Board.WriteX,
		})
		bg := bargein.New(sess)
		gate := stt.NewGate(stt.GateConfig{
			EchoCooldown:           secToDuration(cfg.BargeIn.EchoCooldownSec),
			AutoBargeDebounce:      secToDuration(cfg.BargeIn.AutoBargeDebounceSec),
			BargeStartGuard:        secToDuration(cfg.BargeIn.BargeStartGuardSec),
			AutoBargeConfirmWindow: secToDuration(cfg.BargeIn.AutoBargeConfirmWindowSec),
			MergeWindow:            secToDuration(cfg.BargeIn.STTMergeWindowSec),
		})

		// The connect-plus-one-retry attempt counts as a single call against
		// the breaker: a transient blip that recovers on retry should not
		// count as two separate failures toward tripping it.
		var sttSess *stt.Session
		err := breakers.STT.Execute(func() error {
			s, dialErr := stt.ConnectWithRetry(ctx, resilience.RetryBackoff, func(dctx context.Context) (*stt.Session, error) {
				return sttClient.StartStream(dctx, sessionID)
			})
			sttSess = s
			return dialErr
		})
		if err != nil {
			log.Error("failed to start stt session", "session_id", sessionID, "error", err)
			metrics.RecordProviderError(ctx, "deepgram", "stt")
			http.Error(w, "stt unavailable", http.StatusBadGateway)
			return
		}

		var orch *turn.Orchestrator
		newOrchestrator := func(gw turn.Gateway) *turn.Orchestrator {
			orch = turn.New(sess, bg, llmClient, ttsClient, latexClient, gw, gate, turn.Config{
				VoiceID:           cfg.TTS.VoiceID,
				BoardWidth:        cfg.Board.Width,
				BoardHeight:       cfg.Board.Height,
				MaxBoardHeight:    cfg.Board.MaxHeight,
				IdleSilence:       secToDuration(cfg.Idle.IdleSilenceSec),
				ProactiveInterval: secToDuration(cfg.Idle.ProactiveIntervalSec),
			}, log)
			orch.SetBreakers(breakers)
			return orch
		}

		scheduler := idle.New(sess, dispatcherFunc(func(ev turn.Event) {
			if orch != nil {
				orch.Submit(ev)
			}
		}), secToDuration(cfg.Idle.IdleSilenceSec), secToDuration(cfg.Idle.ProactiveIntervalSec), log)

		metrics.ActiveSessions.Add(ctx, 1)
		defer metrics.ActiveSessions.Add(context.Background(), -1)

		deps := gateway.Deps{
			Session:         sess,
			NewOrchestrator: newOrchestrator,
			Scheduler:       scheduler,
			STT:             sttSess,
			Bargein:         bg,
			Gate:            gate,
			Log:             log,
		}

		if err := gateway.Accept(ctx, w, r, sessionID, deps); err != nil {
			log.Debug("gateway connection ended", "session_id", sessionID, "error", err)
		}
	}
}

// secToDuration converts a fractional-seconds config value to a
// [time.Duration].
func secToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ── Readiness checks ───────────────────────────────────────────────────────────

// pingURL returns a [health.Checker]'s Check function that probes url with a
// HEAD request. A non-5xx response (including an auth-rejected 4xx) counts
// as reachable — readiness cares whether the upstream is up, not whether
// this process's credentials are valid.
func pingURL(url string) func(context.Context) error {
	client := &http.Client{Timeout: 3 * time.Second}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("upstream returned %d", resp.StatusCode)
		}
		return nil
	}
}

// ── Config hot-reload logging ──────────────────────────────────────────────────

func logConfigDiff(log *slog.Logger, d config.ConfigDiff) {
	if d.LogLevelChanged {
		log.Info("config reload: log level changed", "new_log_level", d.NewLogLevel)
	}
	if d.VoiceIDChanged {
		log.Info("config reload: tts voice changed", "new_voice_id", d.NewVoiceID)
	}
	if d.BoardWriteXChanged {
		log.Info("config reload: board write_x changed", "new_write_x", d.NewBoardWriteX)
	}
	if d.BargeInTuningChanged {
		log.Info("config reload: barge-in tuning changed", "new_tuning", d.NewBargeIn)
	}
	if d.IdleTuningChanged {
		log.Info("config reload: idle tuning changed", "new_tuning", d.NewIdle)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       tutorserver — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("LLM model", cfg.LLM.Model)
	printField("TTS voice", cfg.TTS.VoiceID)
	printField("Latex renderer", cfg.Latex.RenderURL)
	printField("Board size", fmt.Sprintf("%dx%d", cfg.Board.Width, cfg.Board.Height))
	printField("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
