package s2s

import (
	"math"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// maskEpsilon keeps the per-example normalizer finite for
// examples whose weights are all zero.
const maskEpsilon = 1e-12

// accidentalHitLogit is added to the logit of a sampled
// class that equals the target, which removes it from the
// softmax.
const accidentalHitLogit = -1e9

// A candidateSampler draws the classes that sampled softmax
// scores besides the target.
type candidateSampler struct {
	VocabSize  int
	NumSamples int

	logRange float64
}

func newCandidateSampler(vocabSize, numSamples int) *candidateSampler {
	return &candidateSampler{
		VocabSize:  vocabSize,
		NumSamples: numSamples,
		logRange:   math.Log(float64(vocabSize) + 1),
	}
}

// Sample draws NumSamples distinct class ids from a
// log-uniform (Zipfian) distribution.
//
// Draws are rejected until they are new, so NumSamples
// must be at most half of VocabSize.
func (c *candidateSampler) Sample(rng *rand.Rand) []int {
	seen := make(map[int]bool, c.NumSamples)
	res := make([]int, 0, c.NumSamples)
	for len(res) < c.NumSamples {
		id := int(math.Exp(rng.Float64()*c.logRange)) - 1
		if id >= c.VocabSize || seen[id] {
			continue
		}
		seen[id] = true
		res = append(res, id)
	}
	return res
}

// LogExpected returns the log of the expected number of
// times a class appears in a sample.
func (c *candidateSampler) LogExpected(id int) float64 {
	prob := math.Log(float64(id+2)/float64(id+1)) / c.logRange
	return math.Log(float64(c.NumSamples) * prob)
}

// softmaxLoss is the masked, length-normalized cross
// entropy of the decoder outputs.
//
// The loss is computed on float64 copies of the hidden
// states and the projection, and its gradient is cast back
// to the model's numeric type.
type softmaxLoss struct {
	Hidden []*anydiff.Var
	Proj   *anynet.FC

	hidden64 []*anydiff.Var
	proj64   *anynet.FC
	cost     anydiff.Res
	out      anyvec.Vector
	v        anydiff.VarSet
}

// newSoftmaxLoss computes the loss for the decoder outputs
// in hidden.
//
// The masks, if non-nil, hold one dropout multiplier per
// hidden unit for each timestep.
// If sampler is nil, the full softmax is used.
// Timesteps with zero weight are skipped entirely.
func newSoftmaxLoss(hidden []*anydiff.Var, proj *anynet.FC, targets [][]int,
	weights [][]float64, masks [][]float64, sampler *candidateSampler,
	rng *rand.Rand) *softmaxLoss {
	vars := append([]*anydiff.Var{proj.Weights, proj.Biases}, hidden...)
	res := &softmaxLoss{
		Hidden: hidden,
		Proj:   proj,
		proj64: &anynet.FC{
			InCount:  proj.InCount,
			OutCount: proj.OutCount,
			Weights:  anydiff.NewVar(to64(proj.Weights.Vector)),
			Biases:   anydiff.NewVar(to64(proj.Biases.Vector)),
		},
		v: anydiff.NewVarSet(vars...),
	}

	coeffs := lossCoeffs(weights)
	var costs []anydiff.Res
	for t, v := range hidden {
		h := anydiff.NewVar(to64(v.Vector))
		res.hidden64 = append(res.hidden64, h)
		if !anyNonZero(weights[t]) {
			continue
		}
		var in anydiff.Res = h
		if masks != nil {
			in = anydiff.Mul(in, anydiff.NewConst(makeVector(lossCreator, masks[t])))
		}
		if sampler != nil {
			costs = append(costs, sampledCost(res.proj64, in, targets[t], coeffs[t],
				sampler, sampler.Sample(rng)))
		} else {
			logits := res.proj64.Apply(in, len(targets[t]))
			costs = append(costs, targetCost(logits, targets[t], coeffs[t], proj.OutCount))
		}
	}
	if len(costs) == 0 {
		res.cost = anydiff.NewConst(lossCreator.MakeVector(1))
	} else {
		res.cost = anydiff.Sum(anydiff.Concat(costs...))
	}
	res.out = makeVector(proj.Weights.Vector.Creator(), float64Data(res.cost.Output()))
	return res
}

func (s *softmaxLoss) Output() anyvec.Vector {
	return s.out
}

func (s *softmaxLoss) Vars() anydiff.VarSet {
	return s.v
}

func (s *softmaxLoss) Propagate(u anyvec.Vector, g anydiff.Grad) {
	vars := append([]*anydiff.Var{s.Proj.Weights, s.Proj.Biases}, s.Hidden...)
	copies := append([]*anydiff.Var{s.proj64.Weights, s.proj64.Biases}, s.hidden64...)

	g64 := anydiff.Grad{}
	for i, v := range vars {
		if _, ok := g[v]; ok {
			g64[copies[i]] = lossCreator.MakeVector(v.Vector.Len())
		}
	}
	if len(g64) == 0 {
		return
	}
	s.cost.Propagate(to64(u), g64)
	for i, v := range vars {
		if down, ok := g64[copies[i]]; ok {
			g[v].Add(makeVector(v.Vector.Creator(), float64Data(down)))
		}
	}
}

// targetCost computes the weighted negative log-likelihood
// of one target per row of logits.
//
// The result holds one cost per row.
func targetCost(logits anydiff.Res, targets []int, coeffs []float64,
	classes int) anydiff.Res {
	desired := make([]float64, len(targets)*classes)
	for b, target := range targets {
		desired[b*classes+target] = coeffs[b]
	}
	c := logits.Output().Creator()
	return anynet.DotCost{}.Cost(anydiff.NewConst(makeVector(c, desired)),
		anydiff.LogSoftmax(logits, classes), len(targets))
}

// sampledCost scores each target against the sampled
// classes only.
//
// Each row of logits holds the target followed by the
// samples.
// Logits are corrected by the log of each class's expected
// count, and samples equal to the target are masked out.
func sampledCost(proj *anynet.FC, hidden anydiff.Res, targets []int, coeffs []float64,
	sampler *candidateSampler, samples []int) anydiff.Res {
	numLanes := len(targets)
	size := proj.InCount
	classes := len(samples) + 1

	rowTable := make([]int, 0, numLanes*classes*size)
	laneTable := make([]int, 0, numLanes*classes*size)
	biasTable := make([]int, 0, numLanes*classes)
	correction := make([]float64, 0, numLanes*classes)
	for b, target := range targets {
		for j := 0; j < classes; j++ {
			id := target
			if j > 0 {
				id = samples[j-1]
			}
			corr := -sampler.LogExpected(id)
			if j > 0 && id == target {
				corr += accidentalHitLogit
			}
			biasTable = append(biasTable, id)
			correction = append(correction, corr)
			for i := 0; i < size; i++ {
				rowTable = append(rowTable, id*size+i)
				laneTable = append(laneTable, b*size+i)
			}
		}
	}

	c := hidden.Output().Creator()
	rows := anydiff.Map(c.MakeMapper(proj.Weights.Vector.Len(), rowTable), proj.Weights)
	lanes := anydiff.Map(c.MakeMapper(hidden.Output().Len(), laneTable), hidden)
	biases := anydiff.Map(c.MakeMapper(proj.OutCount, biasTable), proj.Biases)
	dots := anydiff.SumCols(&anydiff.Matrix{
		Data: anydiff.Mul(rows, lanes),
		Rows: numLanes * classes,
		Cols: size,
	})
	logits := anydiff.Add(anydiff.Add(dots, biases),
		anydiff.NewConst(makeVector(c, correction)))
	return targetCost(logits, make([]int, numLanes), coeffs, classes)
}

// lossCoeffs divides every target weight by its example's
// total weight and by the batch width.
func lossCoeffs(weights [][]float64) [][]float64 {
	var numLanes int
	if len(weights) > 0 {
		numLanes = len(weights[0])
	}
	norms := make([]float64, numLanes)
	for _, step := range weights {
		for b, w := range step {
			norms[b] += w
		}
	}
	res := make([][]float64, len(weights))
	for t, step := range weights {
		res[t] = make([]float64, len(step))
		for b, w := range step {
			res[t][b] = w / (norms[b] + maskEpsilon) / float64(numLanes)
		}
	}
	return res
}

func anyNonZero(weights []float64) bool {
	for _, w := range weights {
		if w != 0 {
			return true
		}
	}
	return false
}

// dropoutMasks creates one mask per timestep with entries
// of either 0 or 1/keepProb.
func dropoutMasks(rng *rand.Rand, steps, size int, keepProb float64) [][]float64 {
	res := make([][]float64, steps)
	for t := range res {
		mask := make([]float64, size)
		for i := range mask {
			if rng.Float64() < keepProb {
				mask[i] = 1 / keepProb
			}
		}
		res[t] = mask
	}
	return res
}
