package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithComponentUsesInstalledHandler(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupWriter(&buf, "warn", "text")
	log := WithComponent("catalog")
	log.Info("dropped")
	log.Warn("kept", "job_id", "j1")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line written at warn level:\n%s", out)
	}
	if !strings.Contains(out, "component=catalog") || !strings.Contains(out, "job_id=j1") {
		t.Errorf("component attribute missing:\n%s", out)
	}
}

func TestWithTask(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "json")
	ctx := WithTask(context.Background(), "merge", 3)
	FromContext(ctx).Debug("task")
	if out := buf.String(); !strings.Contains(out, `"phase":"merge"`) || !strings.Contains(out, `"task_id":3`) {
		t.Errorf("task attributes missing: %s", out)
	}
}
