package ui

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

func TestShouldUseColor(t *testing.T) {
	for _, tc := range []struct {
		name     string
		noColor  string
		force    string
		clicolor string
		want     bool
	}{
		{"NoColorWins", "1", "1", "", false},
		{"Forced", "", "1", "", true},
		{"Disabled", "", "", "0", false},
		{"NotATerminal", "", "", "", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tc.noColor)
			t.Setenv("CLICOLOR_FORCE", tc.force)
			t.Setenv("CLICOLOR", tc.clicolor)

			f, err := os.CreateTemp(t.TempDir(), "out")
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			if got := ShouldUseColor(f); got != tc.want {
				t.Fatalf("ShouldUseColor() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPrinter_Notification(t *testing.T) {
	n := model.Notification{
		ID:           "42",
		Topic:        "chat",
		NodeID:       "abcdefghijklmnop",
		CreationTime: time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.Local),
		Payload:      json.RawMessage(`{"a":1}`),
	}

	plain := Printer{}.Notification(n)
	if plain != `03:04:05.006 chat abcdefgh/42 {"a":1}` {
		t.Fatalf("unexpected plain output %q", plain)
	}

	colored := Printer{Color: true}.Notification(n)
	if !strings.Contains(colored, "\x1b[38;5;74mchat\x1b[0m") {
		t.Fatalf("expected the topic in accent color, got %q", colored)
	}

	n.Payload = nil
	if got := (Printer{}).Notification(n); strings.HasSuffix(got, " ") {
		t.Fatalf("unexpected trailing space in %q", got)
	}
}

func TestPrinter_Duration(t *testing.T) {
	if got := (Printer{}).Duration(2500 * time.Millisecond); got != "2s" {
		t.Fatalf("got %q", got)
	}
}
