package s2s

import (
	"fmt"
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
)

// A ParamStore holds every parameter of the model.
//
// One ParamStore is created per model and shared by all of
// the bucket graphs.
type ParamStore struct {
	Creator anyvec.Creator

	Embeddings *Embeddings
	Layers     []anyrnn.Block
	Block      anyrnn.Block
	Proj       *anynet.FC

	HiddenSize int
}

// NewParamStore creates freshly initialized parameters.
//
// If initScale is positive, every trainable parameter is
// re-drawn uniformly from [-initScale, initScale].
func NewParamStore(c anyvec.Creator, cfg Config, rng *rand.Rand) *ParamStore {
	res := &ParamStore{
		Creator:    c,
		Embeddings: NewEmbeddings(c, cfg.VocabSize, cfg.EmbeddingDim, rng),
		Proj:       anynet.NewFC(c, cfg.HiddenSize, cfg.VocabSize),
		HiddenSize: cfg.HiddenSize,
	}
	var stack anyrnn.Stack
	inSize := cfg.EmbeddingDim
	for i := 0; i < cfg.NumLayers; i++ {
		var layer anyrnn.Block
		if cfg.UseLSTM {
			layer = anyrnn.NewLSTM(c, inSize, cfg.HiddenSize)
		} else {
			layer = NewGRU(c, inSize, cfg.HiddenSize)
		}
		res.Layers = append(res.Layers, layer)
		stack = append(stack, layer)
		inSize = cfg.HiddenSize
	}
	if len(stack) == 1 {
		res.Block = stack[0]
	} else {
		res.Block = stack
	}
	if cfg.InitScale > 0 {
		for _, p := range res.Parameters() {
			anyvec.Rand(p.Vector, anyvec.Uniform, rng)
			p.Vector.Scale(c.MakeNumeric(2 * cfg.InitScale))
			p.Vector.AddScalar(c.MakeNumeric(-cfg.InitScale))
		}
	}
	return res
}

// Parameters returns the trainable parameters in a fixed
// order.
func (p *ParamStore) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, layer := range p.Layers {
		res = append(res, layer.(anynet.Parameterizer).Parameters()...)
	}
	return append(res, p.Proj.Weights, p.Proj.Biases)
}

// ParameterNames returns a name for each parameter, in the
// same order as Parameters.
func (p *ParamStore) ParameterNames() []string {
	var res []string
	for i, layer := range p.Layers {
		params := layer.(anynet.Parameterizer).Parameters()
		for j := range params {
			res = append(res, fmt.Sprintf("cell/%d/%d", i, j))
		}
	}
	return append(res, "proj_w", "proj_b")
}
