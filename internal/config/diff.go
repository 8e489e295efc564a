package config

// ConfigDiff describes what changed between two configs after a hot
// reload. Only fields safe to apply to already-running sessions without a
// process restart are tracked: a changed provider API key or listen
// address still requires the operator to restart the process, since those
// are fixed at construction time for every already-open connection.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceIDChanged bool
	NewVoiceID     string

	BoardWriteXChanged bool
	NewBoardWriteX     int

	BargeInTuningChanged bool
	NewBargeIn           BargeInConfig

	IdleTuningChanged bool
	NewIdle           IdleConfig
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply to sessions already in flight; a caller
// that wants provider credential or listen-address changes to take effect
// still needs a process restart.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.TTS.VoiceID != new.TTS.VoiceID {
		d.VoiceIDChanged = true
		d.NewVoiceID = new.TTS.VoiceID
	}

	if old.Board.WriteX != new.Board.WriteX {
		d.BoardWriteXChanged = true
		d.NewBoardWriteX = new.Board.WriteX
	}

	if old.BargeIn != new.BargeIn {
		d.BargeInTuningChanged = true
		d.NewBargeIn = new.BargeIn
	}

	if old.Idle != new.Idle {
		d.IdleTuningChanged = true
		d.NewIdle = new.Idle
	}

	return d
}
