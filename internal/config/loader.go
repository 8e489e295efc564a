package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, layers environment
// variable overrides on top per spec.md §6, and returns a validated
// [Config]. Environment variables always win over the file, and the file
// always wins over [DefaultConfig]'s built-in defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [DefaultConfig] and
// validates the result. It does not apply environment overrides — useful
// in tests that want a deterministic config built from a YAML literal. The
// [Watcher] also decodes fresh reads this way, so a hot reload never
// silently re-reads the process's environment mid-session.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the environment variables named in spec.md §6 onto cfg,
// mutating it in place. A variable that is unset or empty leaves the
// existing value (file or default) untouched.
func ApplyEnv(cfg *Config) {
	str(&cfg.LLM.APIKey, "LLM_API_KEY")
	str(&cfg.LLM.Model, "LLM_MODEL")
	str(&cfg.STT.APIKey, "STT_API_KEY")
	str(&cfg.TTS.APIKey, "TTS_API_KEY")
	str(&cfg.TTS.VoiceID, "ELEVENLABS_VOICE_ID")
	str(&cfg.Latex.RenderURL, "LATEX_RENDER_URL")
	float(&cfg.Latex.TargetHeightInlinePx, "LATEX_TARGET_HEIGHT_INLINE_PX")
	float(&cfg.Latex.TargetHeightDisplayPx, "LATEX_TARGET_HEIGHT_DISPLAY_PX")
	integer(&cfg.Board.WriteX, "BOARD_WRITE_X")
	integer(&cfg.Board.TopMarginY, "BOARD_TOP_MARGIN_Y")
	integer(&cfg.Board.Width, "BOARD_WIDTH")
	integer(&cfg.Board.Height, "BOARD_HEIGHT")
	integer(&cfg.Board.MaxHeight, "BOARD_MAX_HEIGHT")
	float(&cfg.BargeIn.EchoCooldownSec, "ECHO_COOLDOWN_SEC")
	float(&cfg.BargeIn.AutoBargeDebounceSec, "AUTO_BARGE_DEBOUNCE_SEC")
	float(&cfg.BargeIn.BargeStartGuardSec, "BARGE_START_GUARD_SEC")
	float(&cfg.BargeIn.AutoBargeConfirmWindowSec, "AUTO_BARGE_CONFIRM_WINDOW_SEC")
	float(&cfg.BargeIn.STTMergeWindowSec, "STT_MERGE_WINDOW_SEC")
	float(&cfg.Idle.IdleSilenceSec, "IDLE_SILENCE_SEC")
	float(&cfg.Idle.ProactiveIntervalSec, "PROACTIVE_INTERVAL_SEC")
}

// str overwrites *dst with the named environment variable if it is set.
//
// There is no third-party environment-overlay library in use elsewhere in
// this codebase, and the override set here is small and flatly named
// after spec.md §6 — a struct-tag-driven env library would add a
// dependency to save a handful of os.Getenv calls.
func str(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func float(dst *float64, name string) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return
	}
	*dst = f
}

func integer(dst *int, name string) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every validation failure found, so a misconfigured
// process reports all of its problems at once instead of one at a time.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}

	if cfg.Latex.RenderURL == "" {
		errs = append(errs, errors.New("latex.render_url is required"))
	}
	if cfg.Latex.TargetHeightInlinePx <= 0 {
		errs = append(errs, errors.New("latex.target_height_inline_px must be positive"))
	}
	if cfg.Latex.TargetHeightDisplayPx <= 0 {
		errs = append(errs, errors.New("latex.target_height_display_px must be positive"))
	}
	if cfg.Latex.TargetHeightInlinePx > 0 && cfg.Latex.TargetHeightDisplayPx > 0 &&
		cfg.Latex.TargetHeightInlinePx > cfg.Latex.TargetHeightDisplayPx {
		errs = append(errs, fmt.Errorf("latex.target_height_inline_px (%.1f) is larger than target_height_display_px (%.1f)",
			cfg.Latex.TargetHeightInlinePx, cfg.Latex.TargetHeightDisplayPx))
	}

	if cfg.Board.Width <= 0 {
		errs = append(errs, errors.New("board.width must be positive"))
	}
	if cfg.Board.Height <= 0 {
		errs = append(errs, errors.New("board.height must be positive"))
	}
	if cfg.Board.MaxHeight > 0 && cfg.Board.Height > 0 && cfg.Board.MaxHeight > cfg.Board.Height {
		errs = append(errs, fmt.Errorf("board.max_height (%d) exceeds board.height (%d)", cfg.Board.MaxHeight, cfg.Board.Height))
	}
	if cfg.Board.WriteX < 0 || (cfg.Board.Width > 0 && cfg.Board.WriteX > cfg.Board.Width) {
		errs = append(errs, fmt.Errorf("board.write_x (%d) is outside board.width (%d)", cfg.Board.WriteX, cfg.Board.Width))
	}
	if cfg.Board.TopMarginY < 0 {
		errs = append(errs, errors.New("board.top_margin_y must not be negative"))
	}

	for name, v := range map[string]float64{
		"barge_in.echo_cooldown_sec":               cfg.BargeIn.EchoCooldownSec,
		"barge_in.auto_barge_debounce_sec":          cfg.BargeIn.AutoBargeDebounceSec,
		"barge_in.barge_start_guard_sec":            cfg.BargeIn.BargeStartGuardSec,
		"barge_in.auto_barge_confirm_window_sec":    cfg.BargeIn.AutoBargeConfirmWindowSec,
		"barge_in.stt_merge_window_sec":             cfg.BargeIn.STTMergeWindowSec,
		"idle.idle_silence_sec":                     cfg.Idle.IdleSilenceSec,
		"idle.proactive_interval_sec":                cfg.Idle.ProactiveIntervalSec,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %.3f", name, v))
		}
	}

	return errors.Join(errs...)
}
