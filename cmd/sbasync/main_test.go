package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 9, 4, 15, 0, 0, 0, time.Local)

	tests := []struct {
		text string
		want time.Time
	}{
		{"90m", now.Add(-90 * time.Minute)},
		{"2h", now.Add(-2 * time.Hour)},
		{"2 hours ago", now.Add(-2 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := parseSince(tt.text, now)
			if err != nil {
				t.Fatalf("parseSince() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseSince() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := parseSince("whenever", now); err == nil {
		t.Error("parseSince(whenever) succeeded")
	}
}

func TestLogLineTime(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
	}{
		{"[sync] 2024/09/04 14:00:00 Saved 3 operations", true},
		{"[sync] 2024/09/04 14:00:00.123456 Saved", true},
		{"2024/09/04 14:00:00 no prefix", true},
		{"    continuation", false},
		{"[sync] short", false},
	}
	for _, tt := range tests {
		if _, ok := logLineTime(tt.line); ok != tt.ok {
			t.Errorf("logLineTime(%q) ok = %v, want %v", tt.line, ok, tt.ok)
		}
	}
}

func TestFilterLog(t *testing.T) {
	input := strings.Join([]string{
		"[sync] 2024/09/04 12:00:00 old line",
		"  old detail",
		"[daemon] 2024/09/04 14:30:00 new line",
		"  new detail",
	}, "\n")
	since := time.Date(2024, 9, 4, 14, 0, 0, 0, time.Local)

	var out bytes.Buffer
	if err := filterLog(strings.NewReader(input), &out, since); err != nil {
		t.Fatal(err)
	}
	want := "[daemon] 2024/09/04 14:30:00 new line\n  new detail\n"
	if out.String() != want {
		t.Errorf("filterLog() = %q, want %q", out.String(), want)
	}

	out.Reset()
	if err := filterLog(strings.NewReader(input), &out, time.Time{}); err != nil {
		t.Fatal(err)
	}
	if strings.Count(out.String(), "\n") != 4 {
		t.Errorf("filterLog() without since dropped lines: %q", out.String())
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{"sync", "refresh", "save", "pending", "status", "queue", "import", "export", "serve", "run", "dashboard", "logs"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
			continue
		}
		if cmd.GroupID == "" {
			t.Errorf("command %q has no group", name)
		}
	}
	if cmd, _, err := rootCmd.Find([]string{"queue", "clear"}); err != nil || cmd.Name() != "clear" {
		t.Error("queue clear not registered")
	}
}

func TestConfirmWithoutTerminal(t *testing.T) {
	ok, err := confirm(true, "title", "")
	if err != nil || !ok {
		t.Errorf("confirm(yes) = %v, %v", ok, err)
	}
	if ok, err := confirm(false, "title", ""); err == nil || ok {
		t.Errorf("confirm without a terminal = %v, %v; want an error", ok, err)
	}
}
