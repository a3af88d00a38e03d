package corpus

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/bucketrnn"
)

// A Tokenizer maps words to ids using a vocabulary.
//
// Sentences are lowercased and split on whitespace, and
// punctuation marks become separate tokens.
// Unknown words map to UnkID.
type Tokenizer struct {
	IDs map[string]int
}

// Tokenize converts a sentence to ids.
func (t *Tokenizer) Tokenize(sentence string) bucketrnn.Example {
	var res bucketrnn.Example
	for _, word := range SplitWords(sentence) {
		if id, ok := t.IDs[word]; ok {
			res = append(res, id)
		} else {
			res = append(res, bucketrnn.UnkID)
		}
	}
	return res
}

// SplitWords lowercases a sentence and splits it into words
// and punctuation marks.
func SplitWords(sentence string) []string {
	var res []string
	for _, field := range strings.Fields(strings.ToLower(sentence)) {
		var word strings.Builder
		for _, r := range field {
			if isSplitPunct(r) {
				if word.Len() > 0 {
					res = append(res, word.String())
					word.Reset()
				}
				res = append(res, string(r))
			} else {
				word.WriteRune(r)
			}
		}
		if word.Len() > 0 {
			res = append(res, word.String())
		}
	}
	return res
}

func isSplitPunct(r rune) bool {
	return strings.ContainsRune(".,!?\"':;)(", r)
}

// ReadSentences tokenizes every non-empty line of r.
func ReadSentences(r io.Reader, t *Tokenizer) ([]bucketrnn.Example, error) {
	var res []bucketrnn.Example
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<24)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		res = append(res, t.Tokenize(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read sentences")
	}
	return res, nil
}
