package models

import (
	"strings"
	"testing"
)

func TestNewGenerationId_FormatAndUniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewGenerationId()
		if !strings.HasPrefix(id, "gen_") {
			t.Fatalf("bad prefix: %q", id)
		}
		parts := strings.SplitN(id, "_", 3)
		if len(parts) != 3 || len(parts[2]) != 9 {
			t.Fatalf("bad shape: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id: %q", id)
		}
		seen[id] = true
	}
}

func TestMusicURL(t *testing.T) {
	t.Setenv("APP_BASE_URL", "https://carousel.example.com/")
	if got := MusicURL("upbeat"); got != "https://carousel.example.com/music/upbeat-energy.mp3" {
		t.Fatalf("got %q", got)
	}
	if got := MusicURL("nope"); got != "" {
		t.Fatalf("unknown track must resolve empty, got %q", got)
	}
}
