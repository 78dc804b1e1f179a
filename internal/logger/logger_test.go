package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/neomorfeo/billcycle/internal/logger"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     logger.Config
		wantErr bool
	}{
		{"defaults", logger.Config{}, false},
		{"json debug", logger.Config{Level: "debug", Format: "json"}, false},
		{"console warn stderr", logger.Config{Level: "WARN", Format: "console", Output: "stderr"}, false},
		{"bad level", logger.Config{Level: "loud"}, true},
		{"bad format", logger.Config{Format: "xml"}, true},
		{"bad output", logger.Config{Output: "/var/log/billcycle.log"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := logger.New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && l == nil {
				t.Fatal("nil logger")
			}
		})
	}
}

func TestNewWithWriter_LevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(logger.JSONEncoder(), zapcore.AddSync(&buf), zapcore.InfoLevel)

	l.Debug("hidden")
	l.Info("invoice paid", zap.String("invoice_id", "inv-1"))
	_ = l.Sync()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if entry["msg"] != "invoice paid" || entry["level"] != "info" || entry["invoice_id"] != "inv-1" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["caller"]; !ok {
		t.Error("caller missing")
	}
}
