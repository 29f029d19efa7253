package moonshine

import (
	"fmt"

	hftok "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/0xPD33/sonori-platform/internal/transcription"
)

// bosCandidates and eosCandidates are probed in order against the loaded
// tokenizer's vocabulary, per spec §4.7: "BOS/EOS ids are resolved by
// probing a small candidate set of special-token names and failing load if
// none match."
var (
	bosCandidates = []string{"<s>", "<|startoftranscript|>", "<bos>", "[BOS]"}
	eosCandidates = []string{"</s>", "<|endoftext|>", "<eos>", "[EOS]"}
)

// tokenizer wraps a bundled HuggingFace tokenizer.json definition (loaded
// via github.com/sugarme/tokenizer, the HF tokenizer binding present in the
// retrieved pack's chriscow-livekit-agents-go dependency surface) with the
// resolved BOS/EOS ids Moonshine's greedy loops need.
type tokenizer struct {
	tk    *hftok.Tokenizer
	bosID int64
	eosID int64
	vocab int
}

func newTokenizer(path string) (*tokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("moonshine: load tokenizer.json: %w", err)
	}

	bos, ok := probeSpecialToken(tk, bosCandidates)
	if !ok {
		return nil, transcription.New(transcription.ModelNotAvailable, "moonshine: no recognized BOS token in tokenizer vocabulary")
	}
	eos, ok := probeSpecialToken(tk, eosCandidates)
	if !ok {
		return nil, transcription.New(transcription.ModelNotAvailable, "moonshine: no recognized EOS token in tokenizer vocabulary")
	}

	return &tokenizer{
		tk:    tk,
		bosID: int64(bos),
		eosID: int64(eos),
		vocab: tk.GetVocabSize(false),
	}, nil
}

func probeSpecialToken(tk *hftok.Tokenizer, candidates []string) (int, bool) {
	for _, name := range candidates {
		if id, ok := tk.TokenToId(name); ok {
			return id, true
		}
	}
	return 0, false
}

func (t *tokenizer) vocabSize() int { return t.vocab }

// decode converts a token-id sequence to text, skipping special tokens.
func (t *tokenizer) decode(ids []int64) string {
	intIDs := make([]int, len(ids))
	for i, id := range ids {
		intIDs[i] = int(id)
	}
	return t.tk.Decode(intIDs, true)
}
