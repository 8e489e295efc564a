// Package config provides the configuration schema, loader, and hot-reload
// watcher for the tutoring server.
package config

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the tutoring server. A
// single process serves many concurrent `/ws/{session_id}` connections, but
// they all share the same provider credentials, board geometry, and
// barge-in tuning — there is no per-session override surface, matching
// spec.md §6's flat environment variable table.
//
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// then overridden by environment variables via [ApplyEnv].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	STT     STTConfig     `yaml:"stt"`
	TTS     TTSConfig     `yaml:"tts"`
	Latex   LatexConfig   `yaml:"latex"`
	Board   BoardConfig   `yaml:"board"`
	BargeIn BargeInConfig `yaml:"barge_in"`
	Idle    IdleConfig    `yaml:"idle"`
}

// ServerConfig holds network and logging settings for the server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LLMConfig selects the tutoring model. Env: LLM_API_KEY, LLM_MODEL.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// STTConfig holds the Deepgram credential. Env: STT_API_KEY.
type STTConfig struct {
	APIKey string `yaml:"api_key"`
}

// TTSConfig holds the ElevenLabs credential and voice. Env: TTS_API_KEY,
// ELEVENLABS_VOICE_ID.
type TTSConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
}

// LatexConfig points at the LaTeX rendering microservice and bounds its
// adaptive target render heights. Env: LATEX_RENDER_URL,
// LATEX_TARGET_HEIGHT_INLINE_PX, LATEX_TARGET_HEIGHT_DISPLAY_PX.
type LatexConfig struct {
	RenderURL             string  `yaml:"render_url"`
	TargetHeightInlinePx  float64 `yaml:"target_height_inline_px"`
	TargetHeightDisplayPx float64 `yaml:"target_height_display_px"`
}

// BoardConfig describes the whiteboard's coordinate space and where the
// tutor's handwriting originates. Env: BOARD_WRITE_X, BOARD_TOP_MARGIN_Y,
// BOARD_WIDTH, BOARD_HEIGHT, BOARD_MAX_HEIGHT.
type BoardConfig struct {
	WriteX     int `yaml:"write_x"`
	TopMarginY int `yaml:"top_margin_y"`
	Width      int `yaml:"width"`
	Height     int `yaml:"height"`
	MaxHeight  int `yaml:"max_height"`
}

// BargeInConfig tunes the STT gate's echo suppression and auto-barge-in
// confirmation, in seconds — converted to a [time.Duration]-based
// stt.GateConfig by the caller that wires it. Env: ECHO_COOLDOWN_SEC,
// AUTO_BARGE_DEBOUNCE_SEC, BARGE_START_GUARD_SEC,
// AUTO_BARGE_CONFIRM_WINDOW_SEC, STT_MERGE_WINDOW_SEC.
type BargeInConfig struct {
	EchoCooldownSec           float64 `yaml:"echo_cooldown_sec"`
	AutoBargeDebounceSec      float64 `yaml:"auto_barge_debounce_sec"`
	BargeStartGuardSec        float64 `yaml:"barge_start_guard_sec"`
	AutoBargeConfirmWindowSec float64 `yaml:"auto_barge_confirm_window_sec"`
	STTMergeWindowSec         float64 `yaml:"stt_merge_window_sec"`
}

// IdleConfig tunes the proactive check scheduler, in seconds. Env:
// IDLE_SILENCE_SEC, PROACTIVE_INTERVAL_SEC.
type IdleConfig struct {
	IdleSilenceSec       float64 `yaml:"idle_silence_sec"`
	ProactiveIntervalSec float64 `yaml:"proactive_interval_sec"`
}

// DefaultConfig returns the configuration a bare tutorserver boots with
// before any YAML file or environment variable is applied. Every tunable
// named in spec.md §6 has a sane default, so the process is usable with
// only the three provider API keys set via environment variables.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		LLM: LLMConfig{
			Model: "claude-haiku-4-5",
		},
		TTS: TTSConfig{
			VoiceID: "21m00Tcm4TlvDq8ikWAM",
		},
		Latex: LatexConfig{
			RenderURL:             "http://localhost:3001",
			TargetHeightInlinePx:  28,
			TargetHeightDisplayPx: 44,
		},
		Board: BoardConfig{
			WriteX:     80,
			TopMarginY: 40,
			Width:      1200,
			Height:     4000,
			MaxHeight:  3800,
		},
		BargeIn: BargeInConfig{
			EchoCooldownSec:           1.2,
			AutoBargeDebounceSec:      0.5,
			BargeStartGuardSec:        0.25,
			AutoBargeConfirmWindowSec: 1.5,
			STTMergeWindowSec:         0.8,
		},
		Idle: IdleConfig{
			IdleSilenceSec:       10,
			ProactiveIntervalSec: 60,
		},
	}
}
