package s2s

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anyvec"
)

const gruGateBias = 1

// GRU is a gated recurrent unit block.
//
// For a state h and an input x, the next state is
//
//     r := sigmoid(Wr*h + Ur*x + br)
//     u := sigmoid(Wu*h + Uu*x + bu)
//     c := tanh(Wc*(r.*h) + Uc*x + bc)
//     out := u.*h + (1-u).*c
//
// The output of the block is its new state.
type GRU struct {
	Reset     *GRUGate
	Update    *GRUGate
	Candidate *GRUGate
	InitState *anydiff.Var
}

// NewGRU creates a new, randomized GRU.
//
// The reset and update gates are initially biased to be
// open.
func NewGRU(c anyvec.Creator, in, state int) *GRU {
	res := &GRU{
		Reset:     NewGRUGate(c, in, state, anynet.Sigmoid),
		Update:    NewGRUGate(c, in, state, anynet.Sigmoid),
		Candidate: NewGRUGate(c, in, state, anynet.Tanh),
		InitState: anydiff.NewVar(c.MakeVector(state)),
	}
	res.Reset.Input.Biases.Vector.AddScalar(c.MakeNumeric(gruGateBias))
	res.Update.Input.Biases.Vector.AddScalar(c.MakeNumeric(gruGateBias))
	return res
}

// Start returns the start state for the RNN.
func (g *GRU) Start(n int) anyrnn.State {
	return anyrnn.NewVecState(g.InitState.Vector, n)
}

// PropagateStart propagates through the start state.
func (g *GRU) PropagateStart(s anyrnn.StateGrad, grad anydiff.Grad) {
	s.(*anyrnn.VecState).PropagateStart(g.InitState, grad)
}

// Step performs one timestep.
func (g *GRU) Step(s anyrnn.State, in anyvec.Vector) anyrnn.Res {
	res := &gruRes{
		V:         anydiff.NewVarSet(g.Parameters()...),
		InPool:    anydiff.NewVar(in),
		StatePool: anydiff.NewVar(s.(*anyrnn.VecState).Vector),
	}
	n := s.Present().NumPresent()

	reset := g.Reset.Apply(res.StatePool, res.InPool, n)
	update := g.Update.Apply(res.StatePool, res.InPool, n)
	candidate := g.Candidate.Apply(anydiff.Mul(reset, res.StatePool), res.InPool, n)

	res.Out = anydiff.Pool(update, func(update anydiff.Res) anydiff.Res {
		return anydiff.Add(
			anydiff.Mul(update, res.StatePool),
			anydiff.Mul(anydiff.Complement(update), candidate),
		)
	})
	res.OutState = &anyrnn.VecState{Vector: res.Out.Output(), PresentMap: s.Present()}
	return res
}

// Parameters returns the parameters of the block.
func (g *GRU) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, gate := range []*GRUGate{g.Reset, g.Update, g.Candidate} {
		res = append(res, gate.Parameters()...)
	}
	return append(res, g.InitState)
}

// A GRUGate computes a value from a state and an input.
type GRUGate struct {
	StateWeights *anydiff.Var
	Input        *anynet.FC
	Activation   anynet.Layer
}

// NewGRUGate creates a randomized GRU gate.
func NewGRUGate(c anyvec.Creator, in, state int, activation anynet.Layer) *GRUGate {
	vn := anyrnn.NewVanilla(c, in, state, activation)
	return &GRUGate{
		StateWeights: vn.StateWeights,
		Input: &anynet.FC{
			InCount:  in,
			OutCount: state,
			Weights:  vn.InputWeights,
			Biases:   vn.Biases,
		},
		Activation: activation,
	}
}

// Apply applies the gate to a batch of n states and
// inputs.
func (g *GRUGate) Apply(state, input anydiff.Res, n int) anydiff.Res {
	size := g.Input.OutCount
	weighted := anydiff.MatMul(false, true,
		&anydiff.Matrix{Data: state, Rows: n, Cols: size},
		&anydiff.Matrix{Data: g.StateWeights, Rows: size, Cols: size},
	)
	return g.Activation.Apply(anydiff.Add(weighted.Data, g.Input.Apply(input, n)), n)
}

// Parameters returns the parameters of the gate.
func (g *GRUGate) Parameters() []*anydiff.Var {
	return []*anydiff.Var{g.StateWeights, g.Input.Weights, g.Input.Biases}
}

type gruRes struct {
	OutState *anyrnn.VecState
	Out      anydiff.Res
	V        anydiff.VarSet

	InPool    *anydiff.Var
	StatePool *anydiff.Var
}

func (g *gruRes) State() anyrnn.State {
	return g.OutState
}

func (g *gruRes) Output() anyvec.Vector {
	return g.Out.Output()
}

func (g *gruRes) Vars() anydiff.VarSet {
	return g.V
}

func (g *gruRes) Propagate(u anyvec.Vector, s anyrnn.StateGrad,
	grad anydiff.Grad) (anyvec.Vector, anyrnn.StateGrad) {
	c := u.Creator()
	down := c.MakeVector(g.InPool.Vector.Len())
	downState := c.MakeVector(g.StatePool.Vector.Len())
	grad[g.InPool] = down
	grad[g.StatePool] = downState
	if s != nil {
		u.Add(s.(*anyrnn.VecState).Vector)
	}
	g.Out.Propagate(u, grad)
	delete(grad, g.InPool)
	delete(grad, g.StatePool)
	return down, &anyrnn.VecState{
		Vector:     downState,
		PresentMap: g.OutState.Present(),
	}
}
