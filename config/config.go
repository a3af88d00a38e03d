// Package config loads training configuration from JSON.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/bucketrnn"
	"github.com/unixpickle/bucketrnn/s2s"
)

// Duration is a time.Duration encoded in JSON as a string
// such as "60s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "unmarshal duration")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrap(err, "unmarshal duration")
	}
	*d = Duration(parsed)
	return nil
}

// Config is the complete configuration of a training run.
type Config struct {
	LearningRate    float64           `json:"learning_rate"`
	LRDecay         float64           `json:"lr_decay"`
	NumLayers       int               `json:"num_layers"`
	HiddenSize      int               `json:"hidden_size"`
	KeepProb        float64           `json:"keep_prob"`
	BatchSize       int               `json:"batch_size"`
	VocabSize       int               `json:"vocab_size"`
	EmbeddingDim    int               `json:"embedding_dim"`
	NumSamples      int               `json:"num_samples"`
	Buckets         bucketrnn.Buckets `json:"buckets"`
	MaxGradientNorm float64           `json:"max_gradient_norm"`
	UseLSTM         bool              `json:"use_lstm"`
	InitScale       float64           `json:"init_scale"`

	// Precision is "float32" or "float64".
	Precision string `json:"precision"`

	// Device is a placement hint. It is logged and
	// otherwise ignored.
	Device string `json:"device"`

	Epochs                  int      `json:"epochs"`
	StepsPerCheckpoint      int      `json:"steps_per_checkpoint"`
	CheckpointEveryInterval bool     `json:"checkpoint_every_interval"`
	TrainDir                string   `json:"train_dir"`
	KeepCheckpoints         int      `json:"keep_checkpoints"`
	TrainLookahead          int      `json:"train_lookahead"`
	EvalLookahead           int      `json:"eval_lookahead"`
	FetchTimeout            Duration `json:"fetch_timeout"`
	DecayOnPlateau          bool     `json:"decay_on_plateau"`

	// Overflow is "truncate" or "reject".
	Overflow string `json:"overflow"`

	Seed int64 `json:"seed"`

	Embeddings string `json:"embeddings"`
	Corpus     string `json:"corpus"`

	// Split holds the train, test and validation
	// percentages.
	Split [3]float64 `json:"split"`

	MinSentenceLength int `json:"min_sentence_length"`
	MaxSentenceLength int `json:"max_sentence_length"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LearningRate:       0.001,
		LRDecay:            0.99,
		NumLayers:          2,
		HiddenSize:         200,
		KeepProb:           0.35,
		BatchSize:          20,
		VocabSize:          10000,
		EmbeddingDim:       300,
		NumSamples:         512,
		Buckets:            bucketrnn.Buckets{{Input: 5, Output: 5}, {Input: 20, Output: 20}},
		MaxGradientNorm:    5,
		UseLSTM:            true,
		InitScale:          0.1,
		Precision:          "float32",
		Device:             "/cpu:0",
		Epochs:             100,
		StepsPerCheckpoint: 100,
		TrainDir:           "data/RNN",
		KeepCheckpoints:    5,
		TrainLookahead:     3,
		EvalLookahead:      10,
		FetchTimeout:       Duration(time.Minute),
		Overflow:           "truncate",
		Split:              [3]float64{70, 20, 10},
		MinSentenceLength:  1,
	}
}

// Load reads a JSON file on top of the defaults.
func Load(path string) (*Config, error) {
	res := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return res, nil
}

// Save writes the configuration as JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "save config")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "save config")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := c.Creator(); err != nil {
		return err
	}
	if _, err := c.OverflowPolicy(); err != nil {
		return err
	}
	model := c.Model()
	if err := model.Validate(); err != nil {
		return err
	}
	switch {
	case c.BatchSize < 1:
		return errors.Errorf("invalid batch size %d", c.BatchSize)
	case c.Epochs < 0:
		return errors.Errorf("invalid epoch count %d", c.Epochs)
	case c.StepsPerCheckpoint < 1:
		return errors.Errorf("invalid steps per checkpoint %d", c.StepsPerCheckpoint)
	case c.LRDecay <= 0 || c.LRDecay > 1:
		return errors.Errorf("learning rate decay %f not in (0, 1]", c.LRDecay)
	case c.TrainDir == "":
		return errors.New("missing train directory")
	case c.MaxSentenceLength > 0 && c.MaxSentenceLength < c.MinSentenceLength:
		return errors.Errorf("max sentence length %d below min %d",
			c.MaxSentenceLength, c.MinSentenceLength)
	}
	var splitSum float64
	for _, x := range c.Split {
		if x < 0 {
			return errors.Errorf("negative split percentage in %v", c.Split)
		}
		splitSum += x
	}
	if splitSum > 100 {
		return errors.Errorf("split percentages %v exceed 100", c.Split)
	}
	return nil
}

// Model returns the model hyper-parameters.
func (c *Config) Model() s2s.Config {
	return s2s.Config{
		Buckets:         c.Buckets,
		BatchSize:       c.BatchSize,
		VocabSize:       c.VocabSize,
		EmbeddingDim:    c.EmbeddingDim,
		HiddenSize:      c.HiddenSize,
		NumLayers:       c.NumLayers,
		UseLSTM:         c.UseLSTM,
		KeepProb:        c.KeepProb,
		NumSamples:      c.NumSamples,
		InitScale:       c.InitScale,
		MaxGradientNorm: c.MaxGradientNorm,
		LearningRate:    c.LearningRate,
		DecayFactor:     c.LRDecay,
		Seed:            c.Seed,
	}
}

// Creator returns the vector creator for the precision.
func (c *Config) Creator() (anyvec.Creator, error) {
	switch c.Precision {
	case "float32", "":
		return anyvec32.DefaultCreator{}, nil
	case "float64":
		return anyvec64.DefaultCreator{}, nil
	}
	return nil, errors.Errorf("unknown precision %q", c.Precision)
}

// OverflowPolicy parses the overflow policy.
func (c *Config) OverflowPolicy() (bucketrnn.OverflowPolicy, error) {
	return bucketrnn.ParseOverflowPolicy(c.Overflow)
}

// CellName is the name of the recurrent cell type, e.g.
// for log headers.
func (c *Config) CellName() string {
	if c.UseLSTM {
		return "LSTM"
	}
	return "GRU"
}
