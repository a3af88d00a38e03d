package s2s

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/bucketrnn"
)

func testConfig() Config {
	return Config{
		Buckets:         bucketrnn.Buckets{{Input: 3, Output: 4}, {Input: 5, Output: 6}},
		BatchSize:       4,
		VocabSize:       12,
		EmbeddingDim:    4,
		HiddenSize:      5,
		NumLayers:       2,
		UseLSTM:         true,
		KeepProb:        1,
		MaxGradientNorm: 5,
		LearningRate:    0.01,
		DecayFactor:     0.5,
		Seed:            1337,
	}
}

func testBatch(t *testing.T, cfg Config, bucket int) *bucketrnn.Batch {
	examples := []bucketrnn.Example{{4, 5, 6}, {7, 8}, {9}}
	batch, err := bucketrnn.BuildBatch(examples, bucket, cfg.Buckets, cfg.BatchSize)
	if err != nil {
		t.Fatal(err)
	}
	return batch
}

func TestModelSharesParameters(t *testing.T) {
	cfg := testConfig()
	model, err := New(cfg, anyvec64.DefaultCreator{})
	if err != nil {
		t.Fatal(err)
	}
	for i, g := range model.graphs {
		if g.Params != model.Params {
			t.Errorf("bucket %d has its own parameters", i)
		}
	}

	batch1 := testBatch(t, cfg, 1)
	_, before, err := model.InferenceStep(batch1.Inputs, batch1.Weights, 1)
	if err != nil {
		t.Fatal(err)
	}
	batch0 := testBatch(t, cfg, 0)
	if _, _, err := model.TrainingStep(batch0.Inputs, batch0.Weights, 0); err != nil {
		t.Fatal(err)
	}
	_, after, err := model.InferenceStep(batch1.Inputs, batch1.Weights, 1)
	if err != nil {
		t.Fatal(err)
	}
	if reflect.DeepEqual(before, after) {
		t.Error("training bucket 0 did not affect bucket 1")
	}
}

func TestModelGlobalStep(t *testing.T) {
	cfg := testConfig()
	model, err := New(cfg, anyvec32.DefaultCreator{})
	if err != nil {
		t.Fatal(err)
	}
	batch := testBatch(t, cfg, 0)
	for i := 0; i < 3; i++ {
		if _, _, err := model.TrainingStep(batch.Inputs, batch.Weights, 0); err != nil {
			t.Fatal(err)
		}
		if _, _, err := model.InferenceStep(batch.Inputs, batch.Weights, 0); err != nil {
			t.Fatal(err)
		}
	}
	if step := model.GlobalStep(); step != 3 {
		t.Errorf("expected step 3 but got %d", step)
	}
}

func TestModelShapeErrors(t *testing.T) {
	cfg := testConfig()
	model, err := New(cfg, anyvec64.DefaultCreator{})
	if err != nil {
		t.Fatal(err)
	}
	batch := testBatch(t, cfg, 0)
	ragged := append([][]int{}, batch.Inputs...)
	ragged[1] = ragged[1][:2]
	badToken := [][]int{{4, 5, 6, 100}, {0, 0, 0, 0}, {0, 0, 0, 0}}

	cases := []struct {
		Name    string
		Inputs  [][]int
		Weights [][]float64
		Bucket  int
	}{
		{"WrongBucket", batch.Inputs, batch.Weights, 1},
		{"BadBucket", batch.Inputs, batch.Weights, 2},
		{"ShortWeights", batch.Inputs, batch.Weights[1:], 0},
		{"Ragged", ragged, batch.Weights, 0},
		{"BadToken", badToken, batch.Weights, 0},
	}
	for _, c := range cases {
		_, _, err := model.TrainingStep(c.Inputs, c.Weights, c.Bucket)
		if errors.Cause(err) != bucketrnn.ErrShape {
			t.Errorf("%s: expected ErrShape but got %v", c.Name, err)
		}
		_, _, err = model.InferenceStep(c.Inputs, c.Weights, c.Bucket)
		if errors.Cause(err) != bucketrnn.ErrShape {
			t.Errorf("%s: expected ErrShape but got %v", c.Name, err)
		}
	}
	if model.GlobalStep() != 0 {
		t.Error("failed steps changed the global step")
	}
}

func TestModelInference(t *testing.T) {
	cfg := testConfig()
	model, err := New(cfg, anyvec64.DefaultCreator{})
	if err != nil {
		t.Fatal(err)
	}
	batch := testBatch(t, cfg, 1)
	loss1, out1, err := model.InferenceStep(batch.Inputs, batch.Weights, 1)
	if err != nil {
		t.Fatal(err)
	}
	loss2, out2, _ := model.InferenceStep(batch.Inputs, batch.Weights, 1)
	if loss1 != loss2 || !reflect.DeepEqual(out1, out2) {
		t.Error("inference is not deterministic")
	}
	if len(out1) != 6 {
		t.Fatalf("expected 6 decoder steps but got %d", len(out1))
	}
	for _, step := range out1 {
		if len(step) != cfg.BatchSize || len(step[0]) != cfg.VocabSize {
			t.Fatalf("bad logit shape %dx%d", len(step), len(step[0]))
		}
	}
	if loss1 <= 0 || math.IsNaN(loss1) {
		t.Errorf("unexpected loss %f", loss1)
	}
}

func TestModelLearns(t *testing.T) {
	for _, sampled := range []bool{false, true} {
		cfg := testConfig()
		cfg.LearningRate = 0.05
		cfg.UseLSTM = sampled
		if sampled {
			cfg.NumSamples = 6
		}
		model, err := New(cfg, anyvec64.DefaultCreator{})
		if err != nil {
			t.Fatal(err)
		}
		batch := testBatch(t, cfg, 0)
		var first, last float64
		for i := 0; i < 60; i++ {
			_, loss, err := model.TrainingStep(batch.Inputs, batch.Weights, 0)
			if err != nil {
				t.Fatal(err)
			}
			if i == 0 {
				first = loss
			} else if i >= 55 {
				last += loss / 5
			}
		}
		if last >= first {
			t.Errorf("sampled=%v: loss went from %f to %f", sampled, first, last)
		}
	}
}

func TestModelDecay(t *testing.T) {
	cfg := testConfig()
	model, err := New(cfg, anyvec64.DefaultCreator{})
	if err != nil {
		t.Fatal(err)
	}
	model.DecayLearningRate()
	if lr := model.LearningRate(); math.Abs(lr-0.005) > 1e-12 {
		t.Errorf("expected 0.005 but got %f", lr)
	}
	model.SetState(17, 0.25)
	if model.GlobalStep() != 17 || model.LearningRate() != 0.25 {
		t.Error("SetState did not take effect")
	}
}

func TestModelGradient(t *testing.T) {
	for _, useLSTM := range []bool{true, false} {
		cfg := testConfig()
		cfg.NumLayers = 1
		cfg.UseLSTM = useLSTM
		model, err := New(cfg, anyvec64.DefaultCreator{})
		if err != nil {
			t.Fatal(err)
		}
		graph := model.graphs[0]
		batch := testBatch(t, cfg, 0)
		lossFunc := func() float64 {
			g := anydiff.NewGrad()
			return graph.Train(batch.Inputs, batch.Weights, 1, rand.New(rand.NewSource(1)), g)
		}

		params := model.Parameters()
		grad := anydiff.NewGrad(params...)
		graph.Train(batch.Inputs, batch.Weights, 1, rand.New(rand.NewSource(1)), grad)

		const epsilon = 1e-5
		rng := rand.New(rand.NewSource(2))
		for _, p := range params {
			data := float64Data(p.Vector)
			actual := float64Data(grad[p])
			for i := 0; i < 3; i++ {
				idx := rng.Intn(len(data))
				old := data[idx]
				data[idx] = old + epsilon
				p.Vector.Set(makeVector(p.Vector.Creator(), data))
				plus := lossFunc()
				data[idx] = old - epsilon
				p.Vector.Set(makeVector(p.Vector.Creator(), data))
				minus := lossFunc()
				data[idx] = old
				p.Vector.Set(makeVector(p.Vector.Creator(), data))

				expected := (plus - minus) / (2 * epsilon)
				if math.Abs(expected-actual[idx]) > 1e-4 {
					t.Errorf("lstm=%v: param %d: expected %f but got %f", useLSTM, idx,
						expected, actual[idx])
				}
			}
		}
	}
}

func TestModelGreedyFeedback(t *testing.T) {
	cfg := testConfig()
	cfg.UseLSTM = false
	model, err := New(cfg, anyvec64.DefaultCreator{})
	if err != nil {
		t.Fatal(err)
	}
	batch := testBatch(t, cfg, 1)
	_, actual, err := model.InferenceStep(batch.Inputs, batch.Weights, 1)
	if err != nil {
		t.Fatal(err)
	}

	p := model.Params
	numLanes := cfg.BatchSize
	weights := float64Data(p.Proj.Weights.Vector)
	biases := float64Data(p.Proj.Biases.Vector)

	state := p.Block.Start(numLanes)
	for i := len(batch.Inputs) - 1; i >= 0; i-- {
		state = p.Block.Step(state, p.Embeddings.Lookup(batch.Inputs[i])).State()
	}
	prev := constStep(bucketrnn.GoID, numLanes)
	var fedBack bool
	for step := 0; step < cfg.Buckets[1].Output; step++ {
		res := p.Block.Step(state, p.Embeddings.Lookup(prev))
		state = res.State()
		hidden := float64Data(res.Output())
		for lane := 0; lane < numLanes; lane++ {
			h := hidden[lane*cfg.HiddenSize : (lane+1)*cfg.HiddenSize]
			best := 0
			logits := make([]float64, cfg.VocabSize)
			for k := range logits {
				logits[k] = biases[k]
				for i, x := range h {
					logits[k] += weights[k*cfg.HiddenSize+i] * x
				}
				if logits[k] > logits[best] {
					best = k
				}
				if math.Abs(logits[k]-actual[step][lane][k]) > 1e-8 {
					t.Fatalf("step %d lane %d class %d: expected %f but got %f", step,
						lane, k, logits[k], actual[step][lane][k])
				}
			}
			if best != bucketrnn.GoID {
				fedBack = true
			}
			prev[lane] = best
		}
	}
	if !fedBack {
		t.Error("every prediction was GO, so nothing was fed back")
	}
}

func TestModelSampledFallback(t *testing.T) {
	cfg := testConfig()
	for _, c := range []struct {
		NumSamples int
		Sampled    bool
	}{{0, false}, {3, true}, {6, true}, {7, false}, {11, false}} {
		cfg.NumSamples = c.NumSamples
		model, err := New(cfg, anyvec64.DefaultCreator{})
		if err != nil {
			t.Fatal(err)
		}
		if sampled := model.graphs[0].Sampler != nil; sampled != c.Sampled {
			t.Errorf("%d samples: expected sampled=%v but got %v", c.NumSamples,
				c.Sampled, sampled)
		}
	}
}

func TestModelOptimizerState(t *testing.T) {
	cfg := testConfig()
	model, err := New(cfg, anyvec64.DefaultCreator{})
	if err != nil {
		t.Fatal(err)
	}
	batch := testBatch(t, cfg, 0)
	if _, _, err := model.TrainingStep(batch.Inputs, batch.Weights, 0); err != nil {
		t.Fatal(err)
	}
	data, err := model.OptimizerState()
	if err != nil {
		t.Fatal(err)
	}
	if err := model.SetOptimizerState(data); err != nil {
		t.Fatal(err)
	}
	if model.SetOptimizerState([]byte("garbage")) == nil {
		t.Error("expected error for bad optimizer state")
	}
	if _, _, err := model.TrainingStep(batch.Inputs, batch.Weights, 0); err != nil {
		t.Fatal(err)
	}
}
