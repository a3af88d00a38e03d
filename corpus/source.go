package corpus

import (
	"math/rand"

	"github.com/unixpickle/bucketrnn"
	"github.com/unixpickle/essentials"
	"k8s.io/klog/v2"
)

// Split divides examples into training, test and validation
// sets.
//
// The examples are shuffled with a fixed seed first, so the
// same seed always yields the same split.
// Whatever remains after the training and test fractions
// goes to the validation set.
func Split(examples []bucketrnn.Example, trainFrac, testFrac float64,
	seed int64) (train, test, validation []bucketrnn.Example) {
	shuffled := append([]bucketrnn.Example{}, examples...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	numTrain := essentials.MinInt(len(shuffled), int(trainFrac*float64(len(shuffled))))
	numTest := essentials.MinInt(len(shuffled)-numTrain,
		int(testFrac*float64(len(shuffled))))
	return shuffled[:numTrain], shuffled[numTrain : numTrain+numTest],
		shuffled[numTrain+numTest:]
}

// FilterLength keeps the examples whose length is within
// [minLen, maxLen].
// A maxLen of 0 means no upper bound.
func FilterLength(examples []bucketrnn.Example, minLen, maxLen int) []bucketrnn.Example {
	var res []bucketrnn.Example
	for _, ex := range examples {
		if len(ex) < minLen || (maxLen > 0 && len(ex) > maxLen) {
			continue
		}
		res = append(res, ex)
	}
	return res
}

// A BucketSource groups examples by bucket and produces
// batches of up to BatchSize examples from one bucket.
//
// Batches are produced in the order in which they fill up;
// partially filled batches are flushed at the end.
type BucketSource struct {
	examples  []bucketrnn.Example
	buckets   bucketrnn.Buckets
	batchSize int
	policy    bucketrnn.OverflowPolicy

	pending [][]bucketrnn.Example
	flush   int
	next    int
}

// NewBucketSource creates a BucketSource.
//
// If rng is non-nil, the examples are visited in a random
// order.
func NewBucketSource(examples []bucketrnn.Example, buckets bucketrnn.Buckets,
	batchSize int, policy bucketrnn.OverflowPolicy, rng *rand.Rand) *BucketSource {
	order := append([]bucketrnn.Example{}, examples...)
	if rng != nil {
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return &BucketSource{
		examples:  order,
		buckets:   buckets,
		batchSize: batchSize,
		policy:    policy,
		pending:   make([][]bucketrnn.Example, len(buckets)),
	}
}

// NextBatch returns the next batch, or nil once every
// example has been used.
//
// Examples rejected by the overflow policy are skipped.
func (b *BucketSource) NextBatch() (*bucketrnn.RawBatch, error) {
	for b.next < len(b.examples) {
		ex := b.examples[b.next]
		b.next++
		id, placed, err := b.buckets.Place(ex, b.policy)
		if err != nil {
			klog.V(1).Infof("skipping example: %v", err)
			continue
		}
		b.pending[id] = append(b.pending[id], placed)
		if len(b.pending[id]) == b.batchSize {
			batch := &bucketrnn.RawBatch{Examples: b.pending[id], Bucket: id}
			b.pending[id] = nil
			return batch, nil
		}
	}
	for b.flush < len(b.pending) {
		id := b.flush
		b.flush++
		if len(b.pending[id]) > 0 {
			batch := &bucketrnn.RawBatch{Examples: b.pending[id], Bucket: id}
			b.pending[id] = nil
			return batch, nil
		}
	}
	return nil, nil
}
