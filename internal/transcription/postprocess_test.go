package transcription

import (
	"testing"

	"github.com/0xPD33/sonori-platform/internal/config"
)

func defaultPostConfig() config.PostProcessConfig {
	return config.PostProcessConfig{
		Enabled:              true,
		RemoveLeadingDashes:  true,
		RemoveTrailingDashes: true,
		NormalizeWhitespace:  true,
	}
}

func TestRemoveLeadingDashes(t *testing.T) {
	if got := removeLeadingDashes("- hello world"); got != "hello world" {
		t.Errorf("got %q", got)
	}
	if got := removeLeadingDashes("-- hello"); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := removeLeadingDashes("hello world"); got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestRemoveTrailingDashes(t *testing.T) {
	if got := removeTrailingDashes("hello world -"); got != "hello world" {
		t.Errorf("got %q", got)
	}
	if got := removeTrailingDashes("hello --"); got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	if got := normalizeWhitespace("hello   world"); got != "hello world" {
		t.Errorf("got %q", got)
	}
	if got := normalizeWhitespace("  hello\nworld  "); got != "hello world" {
		t.Errorf("got %q", got)
	}
	if got := normalizeWhitespace("hello\t\tworld"); got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestPostProcessAllEnabled(t *testing.T) {
	got := PostProcess("  - hello   world -  ", defaultPostConfig())
	if got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestPostProcessDisabled(t *testing.T) {
	cfg := defaultPostConfig()
	cfg.Enabled = false
	text := "  - hello   world -  "
	if got := PostProcess(text, cfg); got != text {
		t.Errorf("got %q, want unchanged %q", got, text)
	}
}

// TestPostProcessIdempotent verifies P7: applying post-processing twice
// equals applying it once.
func TestPostProcessIdempotent(t *testing.T) {
	cfg := defaultPostConfig()
	inputs := []string{
		"  - hello   world -  ",
		"no dashes here",
		"- - double dash prefix -- ",
		"",
		"   ",
	}
	for _, in := range inputs {
		once := PostProcess(in, cfg)
		twice := PostProcess(once, cfg)
		if once != twice {
			t.Errorf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}
