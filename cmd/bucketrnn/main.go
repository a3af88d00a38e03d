// Command bucketrnn trains a bucketed sequence-to-sequence
// autoencoder and decodes sentences with it.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/bucketrnn"
	"github.com/unixpickle/bucketrnn/checkpoint"
	"github.com/unixpickle/bucketrnn/config"
	"github.com/unixpickle/bucketrnn/corpus"
	"github.com/unixpickle/bucketrnn/decode"
	"github.com/unixpickle/bucketrnn/s2s"
	"github.com/unixpickle/bucketrnn/train"
	"github.com/unixpickle/essentials"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: bucketrnn [log flags] <train | decode> [flags]")
		flag.PrintDefaults()
	}
	flag.Parse()
	defer klog.Flush()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	var err error
	switch flag.Arg(0) {
	case "train":
		err = runTrain(flag.Args()[1:])
	case "decode":
		err = runDecode(flag.Args()[1:])
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		klog.Flush()
		essentials.Die(err)
	}
}

type commonFlags struct {
	ConfigPath string
	TrainDir   string
	Embeddings string
}

func (c *commonFlags) Add(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigPath, "config", "", "JSON configuration file")
	fs.StringVar(&c.TrainDir, "train-dir", "", "override the training directory")
	fs.StringVar(&c.Embeddings, "embeddings", "", "override the embedding file")
}

// Load reads the configuration and applies the overrides.
func (c *commonFlags) Load() (*config.Config, error) {
	cfg := config.Default()
	if c.ConfigPath != "" {
		var err error
		cfg, err = config.Load(c.ConfigPath)
		if err != nil {
			return nil, err
		}
	}
	if c.TrainDir != "" {
		cfg.TrainDir = c.TrainDir
	}
	if c.Embeddings != "" {
		cfg.Embeddings = c.Embeddings
	}
	return cfg, nil
}

func runTrain(args []string) error {
	var common commonFlags
	var corpusPath, hiddenSizes string
	var epochs int
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	common.Add(fs)
	fs.StringVar(&corpusPath, "corpus", "", "override the sentence file")
	fs.IntVar(&epochs, "epochs", 0, "override the number of epochs")
	fs.StringVar(&hiddenSizes, "hidden-sizes", "",
		"comma-separated hidden sizes to train one after another")
	fs.Parse(args)

	cfg, err := common.Load()
	if err != nil {
		return err
	}
	if corpusPath != "" {
		cfg.Corpus = corpusPath
	}
	if epochs > 0 {
		cfg.Epochs = epochs
	}
	sizes := []int{cfg.HiddenSize}
	if hiddenSizes != "" {
		sizes, err = parseInts(hiddenSizes)
		if err != nil {
			return err
		}
	}

	klog.Info("getting embeddings")
	emb, err := corpus.LoadEmbeddings(cfg.Embeddings, cfg.VocabSize)
	if err != nil {
		return err
	}
	cfg.VocabSize = emb.VocabSize()
	cfg.EmbeddingDim = emb.Dim()

	sentences, err := readCorpus(cfg.Corpus, &corpus.Tokenizer{IDs: emb.IDs()})
	if err != nil {
		return err
	}
	sentences = corpus.FilterLength(sentences, cfg.MinSentenceLength, cfg.MaxSentenceLength)
	trainSet, testSet, validation := corpus.Split(sentences, cfg.Split[0]/100,
		cfg.Split[1]/100, cfg.Seed)
	klog.Infof("split %d sentences into %d/%d/%d", len(sentences), len(trainSet),
		len(testSet), len(validation))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	baseDir := cfg.TrainDir
	for _, size := range sizes {
		run := *cfg
		run.HiddenSize = size
		if len(sizes) > 1 {
			run.TrainDir = filepath.Join(baseDir, fmt.Sprintf("hidden_size_%d", size))
		}
		if err := trainOne(ctx, &run, emb, trainSet, testSet); err != nil {
			return errors.Wrapf(err, "hidden size %d", size)
		}
	}
	return nil
}

func trainOne(ctx context.Context, cfg *config.Config, emb *corpus.Embeddings,
	trainSet, testSet []bucketrnn.Example) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.TrainDir, 0755); err != nil {
		return errors.Wrap(err, "create train directory")
	}
	if err := cfg.Save(filepath.Join(cfg.TrainDir, "config.json")); err != nil {
		return err
	}
	klog.Infof("device hint %q is not used for placement", cfg.Device)
	klog.Infof("Creating %d layers of %d units.", cfg.NumLayers, cfg.HiddenSize)

	model, mgr, err := createModel(cfg, emb)
	if err != nil {
		return err
	}
	policy, _ := cfg.OverflowPolicy()

	prefix := fmt.Sprintf("RNN_hidden_size_%d", cfg.HiddenSize)
	trainLog := &corpus.LogFile{Path: filepath.Join(cfg.TrainDir, prefix+"_train_log.csv")}
	testLog := &corpus.LogFile{Path: filepath.Join(cfg.TrainDir, prefix+"_test_log.csv")}
	for _, l := range []*corpus.LogFile{trainLog, testLog} {
		for _, line := range []string{"RNN " + cfg.CellName(),
			fmt.Sprintf("Hidden Size = %d", cfg.HiddenSize)} {
			if err := l.AppendText(line); err != nil {
				return err
			}
		}
	}

	epochRNG := rand.New(rand.NewSource(cfg.Seed))
	trainer := &train.Trainer{
		Model:                   model,
		Buckets:                 cfg.Buckets,
		BatchSize:               cfg.BatchSize,
		Epochs:                  cfg.Epochs,
		StepsPerCheckpoint:      cfg.StepsPerCheckpoint,
		CheckpointEveryInterval: cfg.CheckpointEveryInterval,
		TrainLookahead:          cfg.TrainLookahead,
		EvalLookahead:           cfg.EvalLookahead,
		FetchTimeout:            time.Duration(cfg.FetchTimeout),
		Decay:                   bucketrnn.DecayPolicy{Enabled: cfg.DecayOnPlateau},
		NewTrainSource: func() (bucketrnn.BatchSource, error) {
			rng := rand.New(rand.NewSource(epochRNG.Int63()))
			return corpus.NewBucketSource(trainSet, cfg.Buckets, cfg.BatchSize, policy,
				rng), nil
		},
		NewEvalSource: func() (bucketrnn.BatchSource, error) {
			return corpus.NewBucketSource(testSet, cfg.Buckets, cfg.BatchSize, policy,
				nil), nil
		},
		TrainLog: trainLog,
		TestLog:  testLog,
		Checkpoint: func() error {
			_, err := mgr.Save(model)
			return err
		},
	}
	klog.Info("starting training")
	return trainer.Run(ctx)
}

func runDecode(args []string) error {
	var common commonFlags
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	common.Add(fs)
	fs.Parse(args)

	cfg, err := common.Load()
	if err != nil {
		return err
	}
	emb, err := corpus.LoadEmbeddings(cfg.Embeddings, cfg.VocabSize)
	if err != nil {
		return err
	}
	cfg.VocabSize = emb.VocabSize()
	cfg.EmbeddingDim = emb.Dim()
	if err := cfg.Validate(); err != nil {
		return err
	}
	model, _, err := createModel(cfg, emb)
	if err != nil {
		return err
	}
	policy, _ := cfg.OverflowPolicy()

	decoder := &decode.Decoder{
		Model:     model,
		Buckets:   cfg.Buckets,
		Tokenizer: &corpus.Tokenizer{IDs: emb.IDs()},
		Vocab:     emb,
		Overflow:  policy,
	}
	if err := decoder.Run(os.Stdin, os.Stdout); err != nil {
		return err
	}
	if n := decoder.Skipped(); n > 0 {
		klog.Infof("skipped %d output ids with no word", n)
	}
	return nil
}

// createModel builds a model with the fixed embeddings and
// restores the latest checkpoint, if any.
func createModel(cfg *config.Config, emb *corpus.Embeddings) (*s2s.Model,
	*checkpoint.Manager, error) {
	creator, err := cfg.Creator()
	if err != nil {
		return nil, nil, err
	}
	model, err := s2s.New(cfg.Model(), creator)
	if err != nil {
		return nil, nil, err
	}
	if err := model.AssignEmbeddings(emb.Vectors()); err != nil {
		return nil, nil, err
	}
	mgr, err := checkpoint.NewManager(cfg.TrainDir, cfg.KeepCheckpoints)
	if err != nil {
		return nil, nil, err
	}
	mgr.RestoreOrInit(model)
	return model, mgr, nil
}

func readCorpus(path string, tok *corpus.Tokenizer) ([]bucketrnn.Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read corpus")
	}
	defer f.Close()
	return corpus.ReadSentences(f, tok)
}

func parseInts(s string) ([]int, error) {
	var res []int
	for _, field := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, errors.Wrapf(err, "parse %q", s)
		}
		res = append(res, n)
	}
	return res, nil
}
