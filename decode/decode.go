// Package decode turns sentences into model outputs using
// greedy decoding.
package decode

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/unixpickle/bucketrnn"
	"k8s.io/klog/v2"
)

// Prompt is written before every input line.
const Prompt = "> "

// A Model can run inference on a batch.
type Model interface {
	InferenceStep(inputs [][]int, weights [][]float64, bucketID int) (loss float64,
		outputs [][][]float64, err error)
}

// A Tokenizer converts a sentence to token ids.
type Tokenizer interface {
	Tokenize(sentence string) bucketrnn.Example
}

// A Vocabulary maps token ids back to words.
type Vocabulary interface {
	Word(id int) (string, bool)
}

// A Decoder decodes one sentence at a time.
type Decoder struct {
	Model     Model
	Buckets   bucketrnn.Buckets
	Tokenizer Tokenizer
	Vocab     Vocabulary
	Overflow  bucketrnn.OverflowPolicy

	skipped int
}

// Run reads sentences from in, one per line, and writes a
// decoded sentence to out for each of them.
//
// A prompt is written before every line is read.
func (d *Decoder) Run(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	if _, err := io.WriteString(out, Prompt); err != nil {
		return err
	}
	for scanner.Scan() {
		decoded, err := d.Decode(scanner.Text())
		if errors.Cause(err) == bucketrnn.ErrSequenceTooLong {
			klog.Warningf("skipping sentence: %v", err)
		} else if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, decoded); err != nil {
			return err
		}
		if _, err := io.WriteString(out, Prompt); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "read input")
}

// Decode decodes a single sentence.
func (d *Decoder) Decode(sentence string) (string, error) {
	ids := d.Tokenizer.Tokenize(sentence)
	bucketID, ids, err := d.Buckets.Place(ids, d.Overflow)
	if err != nil {
		return "", err
	}
	batch, err := bucketrnn.BuildBatch([]bucketrnn.Example{ids}, bucketID, d.Buckets, 1)
	if err != nil {
		return "", err
	}
	_, logits, err := d.Model.InferenceStep(batch.Inputs, batch.Weights, bucketID)
	if err != nil {
		return "", err
	}

	var words []string
	for _, id := range TruncateAtEOS(GreedyIDs(logits, 0)) {
		word, ok := d.Vocab.Word(id)
		if !ok {
			klog.V(1).Infof("no word for output id %d", id)
			d.skipped++
			continue
		}
		words = append(words, word)
	}
	return strings.Join(words, " "), nil
}

// Skipped returns the number of output ids which had no
// corresponding word.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// GreedyIDs takes the argmax of every timestep's logits for
// one lane of a batch.
func GreedyIDs(logits [][][]float64, lane int) []int {
	res := make([]int, len(logits))
	for t, step := range logits {
		row := step[lane]
		var best int
		for i, x := range row {
			if x > row[best] {
				best = i
			}
		}
		res[t] = best
	}
	return res
}

// TruncateAtEOS cuts ids before the first EOS id.
func TruncateAtEOS(ids []int) []int {
	for i, id := range ids {
		if id == bucketrnn.EOSID {
			return ids[:i]
		}
	}
	return ids
}
