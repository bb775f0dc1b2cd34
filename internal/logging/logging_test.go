package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewWithWriter_Level(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"debug", true, true},
		{"INFO", false, true},
		{"warn", false, false},
		{"", false, true},
		{"chatty", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, tt.level)

			logger.Debug().Msg("debug line")
			logger.Info().Msg("info line")

			if got := strings.Contains(buf.String(), "debug line"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}
			if got := strings.Contains(buf.String(), "info line"); got != tt.wantInfo {
				t.Errorf("info logged = %v, want %v", got, tt.wantInfo)
			}
		})
	}
}
