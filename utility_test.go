package main

import (
	"strings"
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"short passthrough", "hello", 10, "hello"},
		{"exact passthrough", "hello", 5, "hello"},
		{"ellipsis", "hello world", 8, "hello..."},
		{"tiny budget hard cut", "hello", 3, "hel"},
		{"single char", "hello", 1, "h"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.s, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateCenter(t *testing.T) {
	tests := []struct {
		name   string
		s      string
		maxLen int
		want   string
	}{
		{"short passthrough", "hello", 10, "hello"},
		{"keeps both ends", "abcdefghijklmnop", 9, "abc...nop"},
		{"tiny budget hard cut", "abcdef", 2, "ab"},
		{"multibyte safe", "日本語のタイトルです", 7, "日本...です"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateCenter(tt.s, tt.maxLen); got != tt.want {
				t.Errorf("TruncateCenter(%q, %d) = %q, want %q", tt.s, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateWithPreserve(t *testing.T) {
	got := TruncateWithPreserve("abcdefghijklmnopqrstuvwxyz", 20, "[YT] ", "")
	if !strings.HasPrefix(got, "[YT] ") {
		t.Fatalf("prefix lost: %q", got)
	}
	if len([]rune(got)) > 20 {
		t.Fatalf("result %q exceeds the budget", got)
	}

	short := TruncateWithPreserve("abc", 100, "[YT] ", " - artist")
	if short != "[YT] abc - artist" {
		t.Fatalf("short input mangled: %q", short)
	}
}

func TestContainsLower(t *testing.T) {
	if !ContainsLower("Never Gonna Give You Up", "gonna") {
		t.Error("case-insensitive match failed")
	}
	if !ContainsLower("abc", "") {
		t.Error("empty needle should always match")
	}
	if ContainsLower("abc", "xyz") {
		t.Error("unrelated needle matched")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "∞"},
		{45 * time.Second, "45s"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
		{3*time.Hour + 30*time.Minute, "3h 30m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatTrackTime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{7 * time.Second, "0:07"},
		{3*time.Minute + 4*time.Second, "3:04"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
		{10 * time.Hour, "10:00:00"},
	}
	for _, tt := range tests {
		if got := FormatTrackTime(tt.d); got != tt.want {
			t.Errorf("FormatTrackTime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatTrackLength(t *testing.T) {
	if got := FormatTrackLength(0); got != "LIVE" {
		t.Errorf("FormatTrackLength(0) = %q, want LIVE", got)
	}
	if got := FormatTrackLength(90 * time.Second); got != "1:30" {
		t.Errorf("FormatTrackLength(90s) = %q, want 1:30", got)
	}
}

func TestParseTrackTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"seconds", "45", 45 * time.Second, false},
		{"minutes seconds", "3:04", 3*time.Minute + 4*time.Second, false},
		{"hours minutes seconds", "1:02:03", time.Hour + 2*time.Minute + 3*time.Second, false},
		{"whitespace tolerated", " 2:30 ", 2*time.Minute + 30*time.Second, false},
		{"overflowing seconds carry", "90", 90 * time.Second, false},
		{"four fields", "1:2:3:4", 0, true},
		{"negative", "-5", 0, true},
		{"garbage", "abc", 0, true},
		{"empty", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTrackTime(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTrackTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTrackTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestProgressBar(t *testing.T) {
	if got := ProgressBar(0, 0, 10); got != strings.Repeat("░", 10) {
		t.Errorf("live bar = %q, want all empty", got)
	}

	got := ProgressBar(time.Minute, 2*time.Minute, 10)
	if got != strings.Repeat("▓", 5)+strings.Repeat("░", 5) {
		t.Errorf("halfway bar = %q", got)
	}

	if got := ProgressBar(2*time.Minute, 2*time.Minute, 10); got != strings.Repeat("▓", 10) {
		t.Errorf("complete bar = %q, want full", got)
	}

	// Positions past the end clamp instead of overflowing the width.
	if got := ProgressBar(5*time.Minute, 2*time.Minute, 10); got != strings.Repeat("▓", 10) {
		t.Errorf("overshoot bar = %q, want clamped full", got)
	}

	if got := ProgressBar(time.Minute, 2*time.Minute, 0); len([]rune(got)) != 20 {
		t.Errorf("default width = %d runes, want 20", len([]rune(got)))
	}
}

func TestMinMaxAtoi(t *testing.T) {
	if Min(3, 5) != 3 || Min(5, 3) != 3 {
		t.Error("Min is wrong")
	}
	if Max(3, 5) != 5 || Max(5, 3) != 5 {
		t.Error("Max is wrong")
	}
	if Atoi("42") != 42 {
		t.Error("Atoi failed on a valid number")
	}
	if Atoi("nope") != 0 {
		t.Error("Atoi should return 0 on garbage")
	}
}

func TestRandomIntRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		got := RandomIntRange(5, 10)
		if got < 5 || got > 10 {
			t.Fatalf("RandomIntRange(5, 10) = %d, out of range", got)
		}
	}
	// Swapped bounds still work.
	for i := 0; i < 100; i++ {
		got := RandomIntRange(10, 5)
		if got < 5 || got > 10 {
			t.Fatalf("RandomIntRange(10, 5) = %d, out of range", got)
		}
	}
	if got := RandomIntRange(7, 7); got != 7 {
		t.Fatalf("degenerate range = %d, want 7", got)
	}
}
