package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger_Levels(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	testCases := []struct {
		raw  string
		want log.Level
	}{
		{raw: "", want: log.InfoLevel},
		{raw: "debug", want: log.DebugLevel},
		{raw: " WARN ", want: log.WarnLevel},
		{raw: "verbose", want: log.InfoLevel},
	}

	for _, tc := range testCases {
		setupLogger(tc.raw)
		if got := log.GetLevel(); got != tc.want {
			t.Errorf("LOG_LEVEL=%q: expected %s, got %s", tc.raw, tc.want, got)
		}
	}
}

func TestSetupLogger_FullTimestamp(t *testing.T) {
	setupLogger("")

	formatter, ok := log.StandardLogger().Formatter.(*log.TextFormatter)
	if !ok {
		t.Fatalf("expected TextFormatter, got %T", log.StandardLogger().Formatter)
	}
	if !formatter.FullTimestamp {
		t.Error("expected FullTimestamp to be enabled")
	}
}
