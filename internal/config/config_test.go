package config_test

import (
	"testing"

	"github.com/MrWong99/glyphoxa/internal/config"
)

func TestLogLevelIsValid(t *testing.T) {
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("bananas").IsValid() {
		t.Error(`"bananas" should not be valid`)
	}
	if config.LogLevel("").IsValid() {
		t.Error(`"" should not be valid`)
	}
}

func TestDefaultConfigPassesValidation(t *testing.T) {
	if err := config.Validate(config.DefaultConfig()); err != nil {
		t.Fatalf("DefaultConfig() failed validation: %v", err)
	}
}

func TestDefaultConfigHasUsableBoardGeometry(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg.Board.MaxHeight > cfg.Board.Height {
		t.Errorf("max_height %d exceeds height %d", cfg.Board.MaxHeight, cfg.Board.Height)
	}
	if cfg.Board.WriteX < 0 || cfg.Board.WriteX > cfg.Board.Width {
		t.Errorf("write_x %d is outside width %d", cfg.Board.WriteX, cfg.Board.Width)
	}
}
