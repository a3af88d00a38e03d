package s2s

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/bucketrnn"
)

// tiedRun is one forward pass of a block over the encoder
// inputs followed by the decoder inputs.
//
// The decoder starts from the encoder's final state, and
// only the decoder outputs are exposed.
type tiedRun struct {
	Block anyrnn.Block
	Reses []anyrnn.Res

	// Outputs holds one pooled variable per decoder step.
	Outputs []*anydiff.Var

	encSteps int
}

func runTied(block anyrnn.Block, enc, dec []*anyseq.Batch) *tiedRun {
	res := &tiedRun{Block: block, encSteps: len(enc)}
	state := block.Start(len(enc[0].Present))
	for _, in := range enc {
		stepRes := block.Step(state, in.Packed)
		res.Reses = append(res.Reses, stepRes)
		state = stepRes.State()
	}
	for _, in := range dec {
		stepRes := block.Step(state, in.Packed)
		res.Reses = append(res.Reses, stepRes)
		res.Outputs = append(res.Outputs, anydiff.NewVar(stepRes.Output()))
		state = stepRes.State()
	}
	return res
}

// PoolGrad adds a zero gradient to g for every decoder
// output, so that a loss computed from Outputs can
// accumulate into them.
func (t *tiedRun) PoolGrad(g anydiff.Grad) {
	for _, v := range t.Outputs {
		g[v] = v.Vector.Creator().MakeVector(v.Vector.Len())
	}
}

// Propagate performs back-propagation through time.
//
// The upstream gradient for each decoder output is taken
// from g and then removed from it.
func (t *tiedRun) Propagate(g anydiff.Grad) {
	var nextGrad anyrnn.StateGrad
	for j := len(t.Reses) - 1; j >= 0; j-- {
		res := t.Reses[j]
		var upVec anyvec.Vector
		if j >= t.encSteps {
			v := t.Outputs[j-t.encSteps]
			upVec = g[v]
			delete(g, v)
		} else {
			out := res.Output()
			upVec = out.Creator().MakeVector(out.Len())
		}
		_, nextGrad = res.Propagate(upVec, nextGrad, g)
	}
	if nextGrad != nil {
		t.Block.PropagateStart(nextGrad, g)
	}
}

// runFeedback runs the encoder and then decodes greedily,
// feeding the argmax of each step's logits back in as the
// next decoder input.
//
// The fed-back inputs are plain embedding vectors, so no
// gradient could flow through the argmax.
func runFeedback(p *ParamStore, enc []*anyseq.Batch, steps int) [][][]float64 {
	numLanes := len(enc[0].Present)
	state := p.Block.Start(numLanes)
	for _, in := range enc {
		state = p.Block.Step(state, in.Packed).State()
	}

	prev := constStep(bucketrnn.GoID, numLanes)
	res := make([][][]float64, steps)
	for t := range res {
		stepRes := p.Block.Step(state, p.Embeddings.Lookup(prev))
		state = stepRes.State()
		logits := p.Proj.Apply(anydiff.NewConst(stepRes.Output()), numLanes)
		res[t] = splitRows(float64Data(logits.Output()), numLanes)
		for lane, row := range res[t] {
			prev[lane] = argmax(row)
		}
	}
	return res
}

func splitRows(data []float64, rows int) [][]float64 {
	cols := len(data) / rows
	res := make([][]float64, rows)
	for i := range res {
		res[i] = data[i*cols : (i+1)*cols]
	}
	return res
}

func argmax(v []float64) int {
	var maxIdx int
	for i, x := range v {
		if x > v[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}
