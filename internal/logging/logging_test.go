package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"trace", zerolog.TraceLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestStartupLoggerEvent(t *testing.T) {
	prev := log.Logger
	defer func() { log.Logger = prev }()

	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "info")
	var buf bytes.Buffer
	InitWithWriter(&buf)

	NewStartupLogger("scheduler").
		S3Bucket("tasks", "task-bucket").
		SSMParam("twitterClientSecret", "/social-scheduler/prod/twitter-client-secret").
		Platform("twitter").
		Platform("instagram").
		Feature("lease", false).
		Config("pollInterval", "1m0s").
		Log()

	var evt map[string]any
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatalf("startup event is not JSON: %v\n%s", err, buf.String())
	}
	if evt["message"] != "Startup complete" {
		t.Errorf("unexpected message: %v", evt["message"])
	}
	if evt["platforms"] != "twitter,instagram" {
		t.Errorf("unexpected platforms: %v", evt["platforms"])
	}
	res, ok := evt["resources"].(map[string]any)
	if !ok {
		t.Fatalf("missing resources: %v", evt)
	}
	if _, ok := res["dynamoTables"]; ok {
		t.Error("empty resource maps should be omitted")
	}
	proc := evt["process"].(map[string]any)
	if proc["name"] != "scheduler" {
		t.Errorf("unexpected process name: %v", proc["name"])
	}
}
