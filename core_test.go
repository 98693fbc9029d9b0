package main

import (
	"strings"
	"testing"
)

func TestStartupDatabasePath(t *testing.T) {
	if got := startupDatabasePath(&Config{DatabasePath: "./data/bot.db"}); got != "./data/bot.db" {
		t.Fatalf("configured path = %q, want ./data/bot.db", got)
	}

	// A failed config load hands main a nil config; the store must still
	// get a usable path instead of a nil dereference.
	if got := startupDatabasePath(nil); !strings.HasSuffix(got, ".db") {
		t.Fatalf("nil-config path = %q, want a .db fallback", got)
	}
	if got := startupDatabasePath(&Config{}); !strings.HasSuffix(got, ".db") {
		t.Fatalf("empty-path fallback = %q, want a .db fallback", got)
	}
}
