package bucketrnn

import "github.com/pkg/errors"

// A Batch is a padded, timestep-major batch for a single
// bucket.
//
// Inputs has one entry per input timestep, and each entry
// has one token per batch slot.
// Weights has one entry per decoder timestep, and each
// entry has a 0 or 1 per batch slot marking whether the
// target at that slot is padding.
type Batch struct {
	Bucket  int
	Inputs  [][]int
	Weights [][]float64
}

// BatchSize returns the number of slots in the batch.
func (b *Batch) BatchSize() int {
	if len(b.Inputs) == 0 {
		if len(b.Weights) == 0 {
			return 0
		}
		return len(b.Weights[0])
	}
	return len(b.Inputs[0])
}

// BuildBatch converts example-major sequences into a padded
// timestep-major Batch.
//
// Every example is right-padded to the bucket's input
// length, and all-padding filler examples are appended
// until there are batchSize examples.
//
// The weight at (t, i) is 0 if the target token at that
// position is padding and 1 otherwise.
// Since targets are the inputs themselves, decoder
// timesteps past the input length are always padding.
func BuildBatch(examples []Example, bucketID int, buckets Buckets,
	batchSize int) (*Batch, error) {
	if bucketID < 0 || bucketID >= len(buckets) {
		return nil, errors.Errorf("bucket %d out of range", bucketID)
	}
	if len(examples) > batchSize {
		return nil, errors.Wrapf(ErrShape, "%d examples exceed batch size %d",
			len(examples), batchSize)
	}
	bucket := buckets[bucketID]

	padded := make([]Example, 0, batchSize)
	for i, ex := range examples {
		if len(ex) > bucket.Input {
			return nil, errors.Wrapf(ErrShape, "example %d: length %d exceeds bucket %v",
				i, len(ex), bucket)
		}
		padded = append(padded, padExample(ex, bucket.Input))
	}
	for len(padded) < batchSize {
		padded = append(padded, padExample(nil, bucket.Input))
	}

	res := &Batch{
		Bucket:  bucketID,
		Inputs:  make([][]int, bucket.Input),
		Weights: make([][]float64, bucket.Output),
	}
	for t := range res.Inputs {
		step := make([]int, batchSize)
		for i, ex := range padded {
			step[i] = ex[t]
		}
		res.Inputs[t] = step
	}
	for t := range res.Weights {
		weights := make([]float64, batchSize)
		for i, ex := range padded {
			if t < len(ex) && ex[t] != PadID {
				weights[i] = 1
			}
		}
		res.Weights[t] = weights
	}
	return res, nil
}

// CheckShape returns an ErrShape if the inputs or weights
// do not match the bucket.
func CheckShape(inputs [][]int, weights [][]float64, bucket Bucket) error {
	if len(inputs) != bucket.Input {
		return errors.Wrapf(ErrShape, "input length must equal bucket input size: %d != %d",
			len(inputs), bucket.Input)
	}
	if len(weights) != bucket.Output {
		return errors.Wrapf(ErrShape, "weights length must equal bucket output size: %d != %d",
			len(weights), bucket.Output)
	}
	width := -1
	for _, step := range inputs {
		if width == -1 {
			width = len(step)
		} else if len(step) != width {
			return errors.Wrap(ErrShape, "ragged input timesteps")
		}
	}
	for _, step := range weights {
		if width == -1 {
			width = len(step)
		} else if len(step) != width {
			return errors.Wrap(ErrShape, "ragged weight timesteps")
		}
	}
	return nil
}

func padExample(ex Example, length int) Example {
	res := make(Example, length)
	copy(res, ex)
	for i := len(ex); i < length; i++ {
		res[i] = PadID
	}
	return res
}
