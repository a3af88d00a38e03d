package s2s

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/bucketrnn"
)

// Config holds the model hyper-parameters.
type Config struct {
	Buckets bucketrnn.Buckets

	// BatchSize is the default number of slots per batch.
	// The model itself accepts any batch width.
	BatchSize int

	VocabSize    int
	EmbeddingDim int
	HiddenSize   int
	NumLayers    int

	// UseLSTM selects LSTM cells; otherwise GRU cells are
	// used.
	UseLSTM bool

	// KeepProb is the probability of keeping a decoder
	// output unit during training.
	KeepProb float64

	// NumSamples enables sampled softmax when it is
	// positive and at most half of VocabSize.
	NumSamples int

	// InitScale, if positive, sets the range of the uniform
	// parameter initializer.
	InitScale float64

	MaxGradientNorm float64
	LearningRate    float64
	DecayFactor     float64

	// Seed seeds dropout and candidate sampling.
	Seed int64
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if err := c.Buckets.Validate(); err != nil {
		return err
	}
	switch {
	case c.VocabSize <= bucketrnn.NumReserved:
		return errors.Errorf("vocab size %d too small", c.VocabSize)
	case c.EmbeddingDim < 1:
		return errors.Errorf("invalid embedding dim %d", c.EmbeddingDim)
	case c.HiddenSize < 1:
		return errors.Errorf("invalid hidden size %d", c.HiddenSize)
	case c.NumLayers < 1:
		return errors.Errorf("invalid layer count %d", c.NumLayers)
	case c.KeepProb <= 0 || c.KeepProb > 1:
		return errors.Errorf("keep probability %f not in (0, 1]", c.KeepProb)
	case c.MaxGradientNorm <= 0:
		return errors.Errorf("invalid max gradient norm %f", c.MaxGradientNorm)
	case c.LearningRate <= 0:
		return errors.Errorf("invalid learning rate %f", c.LearningRate)
	}
	return nil
}

// sampled reports whether sampled softmax should be used.
// Sample counts above half of the vocabulary fall back to
// the full softmax.
func (c *Config) sampled() bool {
	return c.NumSamples > 0 && c.NumSamples <= c.VocabSize/2
}
