package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

// SetupがJSON構造化ログを出力することを検証
func TestSetup_OutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(&buf)

	log.Info("session created", "session_id", "ABC123")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if entry["msg"] != "session created" {
		t.Errorf("msg = %v, want %q", entry["msg"], "session created")
	}
	if entry["session_id"] != "ABC123" {
		t.Errorf("session_id = %v, want ABC123", entry["session_id"])
	}
}

// Debugレベルのログが既定では抑制されることを検証
func TestSetup_SuppressesDebug(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	var buf bytes.Buffer
	log := Setup(&buf)

	log.Debug("should not appear")

	if buf.Len() != 0 {
		t.Errorf("debug log should be suppressed, got: %s", buf.String())
	}
}

// 全エントリにserviceフィールドが付与されることを検証
func TestSetup_IncludesServiceField(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(&buf)

	log.Info("participant joined session")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	if entry["service"] != "collabd" {
		t.Errorf("service = %v, want collabd", entry["service"])
	}
}

// LOG_LEVELでログレベルを切り替えられることを検証
func TestSetup_LevelFromEnv(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"bogus", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.level)
			var buf bytes.Buffer
			log := Setup(&buf)

			log.Debug("debug entry")
			debugSeen := buf.Len() > 0
			buf.Reset()
			log.Info("info entry")
			infoSeen := buf.Len() > 0

			if debugSeen != tt.debugSeen || infoSeen != tt.infoSeen {
				t.Errorf("level %s: debug=%v info=%v, want debug=%v info=%v",
					tt.level, debugSeen, infoSeen, tt.debugSeen, tt.infoSeen)
			}
		})
	}
}
