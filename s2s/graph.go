package s2s

import (
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/bucketrnn"
)

// A bucketGraph is the computation for one bucket.
//
// Every bucketGraph of a model refers to the same
// ParamStore.
type bucketGraph struct {
	ID     int
	Bucket bucketrnn.Bucket
	Params *ParamStore

	// Sampler is nil when the full softmax is used.
	Sampler *candidateSampler
}

func newBucketGraph(id int, b bucketrnn.Bucket, params *ParamStore,
	sampler *candidateSampler) *bucketGraph {
	return &bucketGraph{ID: id, Bucket: b, Params: params, Sampler: sampler}
}

// encoderSteps reverses the inputs.
func (b *bucketGraph) encoderSteps(inputs [][]int) [][]int {
	res := make([][]int, len(inputs))
	for i, step := range inputs {
		res[len(res)-(i+1)] = step
	}
	return res
}

// decoderSteps is GO followed by the targets shifted by one
// timestep.
func (b *bucketGraph) decoderSteps(inputs [][]int) [][]int {
	targets := b.targets(inputs)
	res := make([][]int, b.Bucket.Output)
	res[0] = constStep(bucketrnn.GoID, len(inputs[0]))
	for t := 1; t < len(res); t++ {
		res[t] = targets[t-1]
	}
	return res
}

// targets is the inputs, padded or cut to the number of
// decoder steps.
func (b *bucketGraph) targets(inputs [][]int) [][]int {
	res := make([][]int, b.Bucket.Output)
	for t := range res {
		if t < len(inputs) {
			res[t] = inputs[t]
		} else {
			res[t] = constStep(bucketrnn.PadID, len(inputs[0]))
		}
	}
	return res
}

// Train computes the loss of a batch and accumulates its
// gradient into g.
func (b *bucketGraph) Train(inputs [][]int, weights [][]float64, keepProb float64,
	rng *rand.Rand, g anydiff.Grad) float64 {
	emb := b.Params.Embeddings
	run := runTied(b.Params.Block, emb.Steps(b.encoderSteps(inputs)),
		emb.Steps(b.decoderSteps(inputs)))

	var masks [][]float64
	if keepProb < 1 {
		masks = dropoutMasks(rng, len(run.Outputs), len(inputs[0])*b.Params.HiddenSize,
			keepProb)
	}
	loss := newSoftmaxLoss(run.Outputs, b.Params.Proj, b.targets(inputs), weights,
		masks, b.Sampler, rng)

	run.PoolGrad(g)
	loss.Propagate(makeVector(b.Params.Creator, []float64{1}), g)
	run.Propagate(g)

	return float64Data(loss.Output())[0]
}

// Infer decodes a batch greedily and computes the full
// softmax loss of the decoded logits.
func (b *bucketGraph) Infer(inputs [][]int, weights [][]float64) (float64, [][][]float64) {
	enc := b.Params.Embeddings.Steps(b.encoderSteps(inputs))
	logits := runFeedback(b.Params, enc, b.Bucket.Output)

	coeffs := lossCoeffs(weights)
	targets := b.targets(inputs)
	vocab := b.Params.Proj.OutCount
	costs := make([]anydiff.Res, len(logits))
	for t, rows := range logits {
		var flat []float64
		for _, row := range rows {
			flat = append(flat, row...)
		}
		stepLogits := anydiff.NewConst(makeVector(lossCreator, flat))
		costs[t] = targetCost(stepLogits, targets[t], coeffs[t], vocab)
	}
	loss := anydiff.Sum(anydiff.Concat(costs...)).Output()
	return float64Data(loss)[0], logits
}

func constStep(id, n int) []int {
	res := make([]int, n)
	for i := range res {
		res[i] = id
	}
	return res
}
