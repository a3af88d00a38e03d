// Package corpus loads word embeddings and sentences and
// turns them into bucketed batches.
package corpus

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/bucketrnn"
	"k8s.io/klog/v2"
)

// ReservedWords are the words for the reserved ids, in id
// order.
var ReservedWords = []string{"_PAD", "_GO", "_EOS", "_UNK"}

// An EmbeddingSource provides a vocabulary and a vector for
// every word in it.
type EmbeddingSource interface {
	VocabSize() int
	Dim() int
	Words() []string
	IDs() map[string]int
	Vectors() [][]float64
}

// Embeddings is an in-memory EmbeddingSource.
type Embeddings struct {
	WordList []string
	VecList  [][]float64
	IDMap    map[string]int
}

// LoadEmbeddings reads an embedding file.
//
// See ReadEmbeddings for the format.
func LoadEmbeddings(path string, vocabSize int) (*Embeddings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "load embeddings")
	}
	defer f.Close()
	return ReadEmbeddings(f, vocabSize)
}

// ReadEmbeddings reads lines of the form "word v1 v2 ...".
//
// The reserved words are given the first ids, and reading
// stops once the vocabulary has vocabSize words.
// If vocabSize is 0, every line is read.
func ReadEmbeddings(r io.Reader, vocabSize int) (*Embeddings, error) {
	res := &Embeddings{IDMap: map[string]int{}}
	for _, word := range ReservedWords {
		res.IDMap[word] = len(res.WordList)
		res.WordList = append(res.WordList, word)
		res.VecList = append(res.VecList, nil)
	}

	dim := -1
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<24)
	lineNum := 0
	for scanner.Scan() {
		if vocabSize > 0 && len(res.WordList) >= vocabSize {
			break
		}
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		word := fields[0]
		if _, ok := res.IDMap[word]; ok {
			klog.V(1).Infof("duplicate embedding for %q on line %d", word, lineNum)
			continue
		}
		vec := make([]float64, len(fields)-1)
		for i, field := range fields[1:] {
			x, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "embeddings line %d", lineNum)
			}
			vec[i] = x
		}
		if dim == -1 {
			dim = len(vec)
		} else if len(vec) != dim {
			return nil, errors.Errorf("embeddings line %d: dimension %d, expected %d",
				lineNum, len(vec), dim)
		}
		res.IDMap[word] = len(res.WordList)
		res.WordList = append(res.WordList, word)
		res.VecList = append(res.VecList, vec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read embeddings")
	}
	if dim < 1 {
		return nil, errors.New("no embeddings found")
	}

	for i := range ReservedWords {
		vec := make([]float64, dim)
		if i != bucketrnn.PadID {
			vec[i%dim] = 1
		}
		res.VecList[i] = vec
	}
	return res, nil
}

// VocabSize returns the number of words, including the
// reserved words.
func (e *Embeddings) VocabSize() int {
	return len(e.WordList)
}

// Dim returns the vector dimension.
func (e *Embeddings) Dim() int {
	return len(e.VecList[0])
}

// Words returns the words in id order.
func (e *Embeddings) Words() []string {
	return e.WordList
}

// IDs maps each word to its id.
func (e *Embeddings) IDs() map[string]int {
	return e.IDMap
}

// Vectors returns one vector per id.
func (e *Embeddings) Vectors() [][]float64 {
	return e.VecList
}

// Word returns the word for an id.
func (e *Embeddings) Word(id int) (string, bool) {
	if id < 0 || id >= len(e.WordList) {
		return "", false
	}
	return e.WordList[id], true
}
