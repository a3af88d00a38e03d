// Package train runs the epoch loop: training steps fed by
// a lookahead pipeline, periodic metrics, checkpoints and
// evaluation passes.
package train

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/bucketrnn"
	"github.com/unixpickle/essentials"
	"k8s.io/klog/v2"
)

const (
	// DefaultTrainLookahead is the number of training
	// batches read ahead when Trainer.TrainLookahead is 0.
	DefaultTrainLookahead = 3

	// DefaultEvalLookahead is the number of evaluation
	// batches read ahead when Trainer.EvalLookahead is 0.
	DefaultEvalLookahead = 10

	// DefaultFetchTimeout bounds the wait for one batch when
	// Trainer.FetchTimeout is 0.
	DefaultFetchTimeout = time.Minute
)

// A Model can be trained and evaluated one batch at a time.
type Model interface {
	TrainingStep(inputs [][]int, weights [][]float64, bucketID int) (gradNorm,
		loss float64, err error)
	InferenceStep(inputs [][]int, weights [][]float64, bucketID int) (loss float64,
		outputs [][][]float64, err error)
	GlobalStep() int64
	LearningRate() float64
	DecayLearningRate()
}

// A SourceFactory creates a fresh batch source, e.g. for
// each epoch.
type SourceFactory func() (bucketrnn.BatchSource, error)

// A LogWriter receives log lines.
type LogWriter interface {
	AppendText(line string) error
}

// A Trainer runs the training loop.
type Trainer struct {
	Model   Model
	Buckets bucketrnn.Buckets

	BatchSize          int
	Epochs             int
	StepsPerCheckpoint int

	// CheckpointEveryInterval saves a checkpoint after every
	// StepsPerCheckpoint steps in addition to the end of
	// every epoch.
	CheckpointEveryInterval bool

	// Lookahead depths and the fetch timeout.
	// Zero values select the defaults.
	TrainLookahead int
	EvalLookahead  int
	FetchTimeout   time.Duration

	Decay bucketrnn.DecayPolicy

	NewTrainSource SourceFactory

	// NewEvalSource may be nil to skip evaluation.
	NewEvalSource SourceFactory

	// TrainLog and TestLog may be nil.
	TrainLog LogWriter
	TestLog  LogWriter

	// Checkpoint saves the model.
	// It may be nil.
	Checkpoint func() error

	tracker bucketrnn.LossTracker
}

// Run runs every epoch.
//
// It stops early if ctx is done, if a fetch times out, or
// if any step fails.
func (t *Trainer) Run(ctx context.Context) error {
	for epoch := 0; epoch < t.Epochs; epoch++ {
		if err := t.RunEpoch(ctx, epoch); err != nil {
			return err
		}
	}
	return nil
}

// RunEpoch runs a training pass, saves a checkpoint, and
// runs an evaluation pass.
func (t *Trainer) RunEpoch(ctx context.Context, epoch int) error {
	header := fmt.Sprintf("Epoch: %d", epoch)
	if err := t.appendLines(header, t.TrainLog, t.TestLog); err != nil {
		return err
	}
	klog.Infof("starting epoch %d", epoch)

	t.tracker = bucketrnn.LossTracker{Interval: essentials.MaxInt(1, t.StepsPerCheckpoint)}
	if err := t.trainPass(ctx); err != nil {
		return errors.Wrapf(err, "epoch %d", epoch)
	}
	if err := t.save(); err != nil {
		return err
	}
	if err := t.evalPass(ctx); err != nil {
		return errors.Wrapf(err, "epoch %d: eval", epoch)
	}
	return nil
}

func (t *Trainer) trainPass(ctx context.Context) error {
	src, err := t.NewTrainSource()
	if err != nil {
		return errors.Wrap(err, "create training source")
	}
	lookahead := bucketrnn.NewLookahead(src, lookaheadDepth(t.TrainLookahead,
		DefaultTrainLookahead), t.timeout())
	defer closeLookahead(lookahead)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := lookahead.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return errors.Wrap(err, "fetch training batch")
		}

		start := time.Now()
		batch, err := bucketrnn.BuildBatch(raw.Examples, raw.Bucket, t.Buckets, t.BatchSize)
		if err != nil {
			return err
		}
		_, loss, err := t.Model.TrainingStep(batch.Inputs, batch.Weights, batch.Bucket)
		if err != nil {
			return err
		}
		if t.tracker.Add(loss, time.Since(start)) {
			if err := t.report(); err != nil {
				return err
			}
		}
	}
}

func (t *Trainer) report() error {
	loss := t.tracker.Loss()
	stepTime := t.tracker.StepTime()
	perplexity := bucketrnn.Perplexity(loss)
	t.tracker.Reset()

	if t.Decay.Observe(loss) {
		t.Model.DecayLearningRate()
	}
	step := t.Model.GlobalStep()
	lr := t.Model.LearningRate()
	klog.Infof("global step %d learning rate %.4f step-time %.2f perplexity %.2f",
		step, lr, stepTime, perplexity)

	line := fmt.Sprintf("%d;%s;%s;%s;%s", step, formatFloat(perplexity),
		formatFloat(loss), formatFloat(lr), formatFloat(stepTime))
	if err := t.appendLines(line, t.TrainLog); err != nil {
		return err
	}
	if t.CheckpointEveryInterval {
		return t.save()
	}
	return nil
}

func (t *Trainer) evalPass(ctx context.Context) error {
	if t.NewEvalSource == nil {
		return nil
	}
	src, err := t.NewEvalSource()
	if err != nil {
		return errors.Wrap(err, "create eval source")
	}
	lookahead := bucketrnn.NewLookahead(src, lookaheadDepth(t.EvalLookahead,
		DefaultEvalLookahead), t.timeout())
	defer closeLookahead(lookahead)

	klog.Info("Testing:")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := lookahead.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return errors.Wrap(err, "fetch eval batch")
		}
		batch, err := bucketrnn.BuildBatch(raw.Examples, raw.Bucket, t.Buckets, t.BatchSize)
		if err != nil {
			return err
		}
		loss, _, err := t.Model.InferenceStep(batch.Inputs, batch.Weights, batch.Bucket)
		if err != nil {
			return err
		}
		perplexity := bucketrnn.Perplexity(loss)
		klog.Infof("  eval: bucket %d perplexity %.2f", batch.Bucket, perplexity)
		line := fmt.Sprintf("%d;%s;%s", batch.Bucket, formatFloat(perplexity),
			formatFloat(loss))
		if err := t.appendLines(line, t.TestLog); err != nil {
			return err
		}
	}
}

func (t *Trainer) save() error {
	if t.Checkpoint == nil {
		return nil
	}
	return errors.Wrap(t.Checkpoint(), "save checkpoint")
}

func lookaheadDepth(d, def int) int {
	if d > 0 {
		return d
	}
	return def
}

func (t *Trainer) timeout() time.Duration {
	if t.FetchTimeout > 0 {
		return t.FetchTimeout
	}
	return DefaultFetchTimeout
}

func (t *Trainer) appendLines(line string, logs ...LogWriter) error {
	for _, l := range logs {
		if l == nil {
			continue
		}
		if err := l.AppendText(line); err != nil {
			return errors.Wrap(err, "append log")
		}
	}
	return nil
}

func closeLookahead(l *bucketrnn.Lookahead) {
	if err := l.Close(); err != nil {
		klog.Warningf("close batch pipeline: %v", err)
	}
}

func formatFloat(x float64) string {
	if math.IsInf(x, 1) {
		return "inf"
	}
	return strconv.FormatFloat(x, 'g', -1, 64)
}
