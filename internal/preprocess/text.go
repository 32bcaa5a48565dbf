package preprocess

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

type TextOptions struct {
	Vocab          map[string]int
	SequenceLength int
	PadIndex       int
	OOVIndex       int
	PadPost        bool
}

// Tokenize normalizes (NFKC, case folded) and splits on anything that is not
// a letter, digit or apostrophe.
func Tokenize(text string) []string {
	s := norm.NFKC.String(text)
	s = cases.Fold().String(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// TextTensor maps text to a fixed-length sequence of vocabulary ids.
// Sequences are truncated and padded on the same side, like Keras'
// pad_sequences.
func TextTensor(text string, opts TextOptions) ([]float32, error) {
	if opts.SequenceLength <= 0 {
		return nil, fmt.Errorf("sequence length must be positive")
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: text has no words", ErrInvalidInput)
	}

	ids := make([]float32, 0, len(tokens))
	for _, tok := range tokens {
		id, ok := opts.Vocab[tok]
		if !ok {
			id = opts.OOVIndex
		}
		ids = append(ids, float32(id))
	}

	if len(ids) > opts.SequenceLength {
		if opts.PadPost {
			ids = ids[:opts.SequenceLength]
		} else {
			ids = ids[len(ids)-opts.SequenceLength:]
		}
	}

	out := make([]float32, opts.SequenceLength)
	for i := range out {
		out[i] = float32(opts.PadIndex)
	}
	if opts.PadPost {
		copy(out, ids)
	} else {
		copy(out[opts.SequenceLength-len(ids):], ids)
	}
	return out, nil
}
