package transcription

import (
	"strings"

	"github.com/0xPD33/sonori-platform/internal/config"
)

// PostProcess cleans up backend output: strips leading/trailing dashes and
// collapses whitespace. See spec §4.10 and P7 (idempotence): applying this
// twice must equal applying it once, which holds because each step converges
// to a fixed point (a string with no leading/trailing dash and single-spaced
// words is unchanged by a second pass).
func PostProcess(text string, cfg config.PostProcessConfig) string {
	if !cfg.Enabled {
		return text
	}

	processed := text
	if cfg.RemoveLeadingDashes {
		processed = removeLeadingDashes(processed)
	}
	if cfg.RemoveTrailingDashes {
		processed = removeTrailingDashes(processed)
	}
	if cfg.NormalizeWhitespace {
		processed = normalizeWhitespace(processed)
	}
	return processed
}

func removeLeadingDashes(text string) string {
	trimmed := strings.TrimLeft(text, " \t\n\r")
	if strings.HasPrefix(trimmed, "-") {
		return strings.TrimLeft(trimmed, "- \t\n\r")
	}
	return text
}

func removeTrailingDashes(text string) string {
	trimmed := strings.TrimRight(text, " \t\n\r")
	if strings.HasSuffix(trimmed, "-") {
		return strings.TrimRight(trimmed, "- \t\n\r")
	}
	return text
}

func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
