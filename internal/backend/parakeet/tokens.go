package parakeet

import (
	"bufio"
	"os"
	"strings"

	"github.com/0xPD33/sonori-platform/internal/transcription"
)

// vocabulary holds the SentencePiece-style token table Parakeet ships as a
// plain tokens.txt (one "token id" pair per line, blank_id implicitly the
// last entry), per spec §4.8.
type vocabulary struct {
	tokens  []string
	blankID int64
}

func loadVocabulary(path string) (*vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, transcription.Wrapf(err, transcription.ModelNotAvailable, "parakeet: open tokens file %q", path)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, " ")
		if idx < 0 {
			tokens = append(tokens, line)
			continue
		}
		tokens = append(tokens, line[:idx])
	}
	if err := scanner.Err(); err != nil {
		return nil, transcription.Wrap(err, transcription.ModelNotAvailable, "parakeet: read tokens file")
	}
	if len(tokens) == 0 {
		return nil, transcription.New(transcription.ModelNotAvailable, "parakeet: tokens file is empty")
	}

	return &vocabulary{
		tokens:  tokens,
		blankID: int64(len(tokens) - 1),
	}, nil
}

func (v *vocabulary) size() int { return len(v.tokens) }

// detokenize joins SentencePiece-style tokens, replacing the "▁" marker with
// a space (spec §4.8's detokenization rule) and dropping the blank token.
func (v *vocabulary) detokenize(ids []int64) string {
	var sb strings.Builder
	for _, id := range ids {
		if id == v.blankID || id < 0 || int(id) >= len(v.tokens) {
			continue
		}
		tok := v.tokens[id]
		tok = strings.ReplaceAll(tok, "▁", " ")
		sb.WriteString(tok)
	}
	return strings.TrimSpace(sb.String())
}
