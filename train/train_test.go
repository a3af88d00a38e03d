package train

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/bucketrnn"
)

var testBuckets = bucketrnn.Buckets{{Input: 3, Output: 4}, {Input: 6, Output: 7}}

type fakeModel struct {
	lock    sync.Mutex
	losses  []float64
	step    int64
	lr      float64
	decays  int
	evals   int
	buckets []int
}

func (f *fakeModel) TrainingStep(inputs [][]int, weights [][]float64,
	bucketID int) (float64, float64, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := bucketrnn.CheckShape(inputs, weights, testBuckets[bucketID]); err != nil {
		return 0, 0, err
	}
	loss := 1.0
	if int(f.step) < len(f.losses) {
		loss = f.losses[f.step]
	}
	f.step++
	f.buckets = append(f.buckets, bucketID)
	return 0, loss, nil
}

func (f *fakeModel) InferenceStep(inputs [][]int, weights [][]float64,
	bucketID int) (float64, [][][]float64, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.evals++
	return 0, nil, nil
}

func (f *fakeModel) GlobalStep() int64 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.step
}

func (f *fakeModel) LearningRate() float64 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.lr
}

func (f *fakeModel) DecayLearningRate() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.decays++
	f.lr /= 2
}

type memLog struct {
	Lines []string
}

func (m *memLog) AppendText(line string) error {
	m.Lines = append(m.Lines, line)
	return nil
}

func sliceFactory(n int) SourceFactory {
	return func() (bucketrnn.BatchSource, error) {
		src := &bucketrnn.SliceSource{}
		for i := 0; i < n; i++ {
			src.Batches = append(src.Batches, &bucketrnn.RawBatch{
				Examples: []bucketrnn.Example{{4, 5}, {6}},
				Bucket:   i % 2,
			})
		}
		src.Batches = append(src.Batches, nil)
		return src, nil
	}
}

func TestTrainerLogs(t *testing.T) {
	model := &fakeModel{lr: 0.5}
	trainLog, testLog := &memLog{}, &memLog{}
	var saves int
	trainer := &Trainer{
		Model:              model,
		Buckets:            testBuckets,
		BatchSize:          2,
		Epochs:             2,
		StepsPerCheckpoint: 2,
		NewTrainSource:     sliceFactory(5),
		NewEvalSource:      sliceFactory(2),
		TrainLog:           trainLog,
		TestLog:            testLog,
		Checkpoint: func() error {
			saves++
			return nil
		},
	}
	if err := trainer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if model.step != 10 {
		t.Errorf("expected 10 steps but got %d", model.step)
	}
	if model.evals != 4 {
		t.Errorf("expected 4 eval steps but got %d", model.evals)
	}
	if saves != 2 {
		t.Errorf("expected 2 checkpoints but got %d", saves)
	}

	expectedTrain := []string{"Epoch: 0", "2;", "4;", "Epoch: 1", "7;", "9;"}
	if len(trainLog.Lines) != len(expectedTrain) {
		t.Fatalf("unexpected train log: %v", trainLog.Lines)
	}
	for i, prefix := range expectedTrain {
		if !strings.HasPrefix(trainLog.Lines[i], prefix) {
			t.Errorf("line %d: expected prefix %q but got %q", i, prefix,
				trainLog.Lines[i])
		}
	}
	fields := strings.Split(trainLog.Lines[1], ";")
	if len(fields) != 5 || fields[2] != "1" || fields[3] != "0.5" {
		t.Errorf("bad metrics line: %q", trainLog.Lines[1])
	}

	expectedTest := []string{"Epoch: 0", "0;", "1;", "Epoch: 1", "0;", "1;"}
	if len(testLog.Lines) != len(expectedTest) {
		t.Fatalf("unexpected test log: %v", testLog.Lines)
	}
	for i, prefix := range expectedTest {
		if !strings.HasPrefix(testLog.Lines[i], prefix) {
			t.Errorf("line %d: expected prefix %q but got %q", i, prefix,
				testLog.Lines[i])
		}
	}
}

func TestTrainerCheckpointEveryInterval(t *testing.T) {
	var saves int
	trainer := &Trainer{
		Model:                   &fakeModel{lr: 1},
		Buckets:                 testBuckets,
		BatchSize:               2,
		Epochs:                  1,
		StepsPerCheckpoint:      2,
		CheckpointEveryInterval: true,
		NewTrainSource:          sliceFactory(6),
		Checkpoint: func() error {
			saves++
			return nil
		},
	}
	if err := trainer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if saves != 4 {
		t.Errorf("expected 4 checkpoints but got %d", saves)
	}
}

func TestTrainerDecay(t *testing.T) {
	model := &fakeModel{
		lr:     1,
		losses: []float64{5, 4, 3, 2, 10},
	}
	trainer := &Trainer{
		Model:              model,
		Buckets:            testBuckets,
		BatchSize:          2,
		Epochs:             1,
		StepsPerCheckpoint: 1,
		Decay:              bucketrnn.DecayPolicy{Enabled: true},
		NewTrainSource:     sliceFactory(5),
	}
	if err := trainer.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if model.decays != 1 {
		t.Errorf("expected 1 decay but got %d", model.decays)
	}
}

func TestTrainerFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	trainer := &Trainer{
		Model:        &fakeModel{},
		Buckets:      testBuckets,
		BatchSize:    2,
		Epochs:       1,
		FetchTimeout: time.Millisecond * 20,
		NewTrainSource: func() (bucketrnn.BatchSource, error) {
			return stallingSource(release), nil
		},
	}
	err := trainer.Run(context.Background())
	if errors.Cause(err) != bucketrnn.ErrFetchTimeout {
		t.Fatalf("expected ErrFetchTimeout but got %v", err)
	}
}

func TestTrainerShapeError(t *testing.T) {
	trainer := &Trainer{
		Model:     &fakeModel{},
		Buckets:   testBuckets,
		BatchSize: 1,
		Epochs:    1,
		NewTrainSource: func() (bucketrnn.BatchSource, error) {
			return &bucketrnn.SliceSource{
				Batches: []*bucketrnn.RawBatch{
					{Examples: []bucketrnn.Example{{4}, {5}}},
				},
			}, nil
		},
	}
	err := trainer.Run(context.Background())
	if errors.Cause(err) != bucketrnn.ErrShape {
		t.Fatalf("expected ErrShape but got %v", err)
	}
}

func TestTrainerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := &fakeModel{}
	trainer := &Trainer{
		Model:          model,
		Buckets:        testBuckets,
		BatchSize:      2,
		Epochs:         3,
		NewTrainSource: sliceFactory(5),
	}
	if err := trainer.Run(ctx); errors.Cause(err) != context.Canceled {
		t.Fatalf("expected context.Canceled but got %v", err)
	}
	if model.step != 0 {
		t.Errorf("ran %d steps after cancellation", model.step)
	}
}

type stallingSource chan struct{}

func (s stallingSource) NextBatch() (*bucketrnn.RawBatch, error) {
	<-s
	return nil, nil
}

func TestLookaheadDepth(t *testing.T) {
	if d := lookaheadDepth(0, DefaultTrainLookahead); d != DefaultTrainLookahead {
		t.Errorf("expected default %d but got %d", DefaultTrainLookahead, d)
	}
	if d := lookaheadDepth(-1, DefaultEvalLookahead); d != DefaultEvalLookahead {
		t.Errorf("expected default %d but got %d", DefaultEvalLookahead, d)
	}
	if d := lookaheadDepth(7, DefaultEvalLookahead); d != 7 {
		t.Errorf("expected 7 but got %d", d)
	}
}
