// Package s2s implements a bucketed sequence-to-sequence
// autoencoder with a single set of shared parameters.
package s2s

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/bucketrnn"
	"k8s.io/klog/v2"
)

// A Model trains and evaluates one graph per bucket.
//
// It is safe to call methods on a Model from multiple
// goroutines; steps are serialized.
type Model struct {
	Config Config
	Params *ParamStore

	lock         sync.Mutex
	graphs       []*bucketGraph
	optimizer    *anysgd.Adam
	rng          *rand.Rand
	globalStep   int64
	learningRate float64
}

// New creates a model with fresh parameters.
func New(cfg Config, c anyvec.Creator) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "new model")
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	store := NewParamStore(c, cfg, rng)

	var sampler *candidateSampler
	if cfg.sampled() {
		klog.Infof("using sampled softmax with %d samples", cfg.NumSamples)
		sampler = newCandidateSampler(cfg.VocabSize, cfg.NumSamples)
	} else if cfg.NumSamples > 0 {
		klog.Warningf("%d samples is more than half of the vocabulary; using full softmax",
			cfg.NumSamples)
	}

	res := &Model{
		Config:       cfg,
		Params:       store,
		optimizer:    newOptimizer(store),
		rng:          rng,
		learningRate: cfg.LearningRate,
	}
	for i, b := range cfg.Buckets {
		klog.V(1).Infof("creating graph for bucket %d %v", i, b)
		res.graphs = append(res.graphs, newBucketGraph(i, b, store, sampler))
	}
	return res, nil
}

// TrainingStep performs one optimizer update on a batch.
//
// The gradient is clipped to have a global norm of at most
// Config.MaxGradientNorm.
// The returned norm is the norm before clipping.
func (m *Model) TrainingStep(inputs [][]int, weights [][]float64,
	bucketID int) (gradNorm, loss float64, err error) {
	graph, err := m.graph(inputs, weights, bucketID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "training step")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	c := m.Params.Creator
	grad := anydiff.NewGrad(m.Params.Parameters()...)
	loss = graph.Train(inputs, weights, m.Config.KeepProb, m.rng, grad)

	gradNorm = globalNorm(grad)
	if gradNorm > m.Config.MaxGradientNorm {
		grad.Scale(c.MakeNumeric(m.Config.MaxGradientNorm / gradNorm))
	}

	step := m.optimizer.Transform(grad)
	step.Scale(c.MakeNumeric(-m.learningRate))
	step.AddToVars()
	m.globalStep++

	return gradNorm, loss, nil
}

// InferenceStep decodes a batch greedily.
//
// It returns the loss of the decoded logits against the
// inputs, and one [batch][vocab] matrix of logits per
// decoder step.
// It does not change the parameters or the global step.
func (m *Model) InferenceStep(inputs [][]int, weights [][]float64,
	bucketID int) (loss float64, outputs [][][]float64, err error) {
	graph, err := m.graph(inputs, weights, bucketID)
	if err != nil {
		return 0, nil, errors.Wrap(err, "inference step")
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	loss, outputs = graph.Infer(inputs, weights)
	return loss, outputs, nil
}

// GlobalStep returns the number of training updates.
func (m *Model) GlobalStep() int64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.globalStep
}

// LearningRate returns the current learning rate.
func (m *Model) LearningRate() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.learningRate
}

// DecayLearningRate multiplies the learning rate by
// Config.DecayFactor.
func (m *Model) DecayLearningRate() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.learningRate *= m.Config.DecayFactor
	klog.Infof("decayed learning rate to %f", m.learningRate)
}

// SetState overwrites the global step and learning rate,
// e.g. after restoring a checkpoint.
func (m *Model) SetState(step int64, learningRate float64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.globalStep = step
	m.learningRate = learningRate
}

// AssignEmbeddings sets the fixed embedding table.
func (m *Model) AssignEmbeddings(vectors [][]float64) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.Params.Embeddings.Assign(vectors)
}

// Buckets returns the buckets the model was built for.
func (m *Model) Buckets() bucketrnn.Buckets {
	return m.Config.Buckets
}

// Parameters returns the trainable parameters in a fixed
// order.
func (m *Model) Parameters() []*anydiff.Var {
	return m.Params.Parameters()
}

// ParameterNames returns one name per parameter.
func (m *Model) ParameterNames() []string {
	return m.Params.ParameterNames()
}

// OptimizerState encodes the optimizer's moment estimates
// and iteration count.
//
// The caller must hold Lock.
func (m *Model) OptimizerState() ([]byte, error) {
	data, err := m.optimizer.MarshalBinary()
	return data, errors.Wrap(err, "encode optimizer state")
}

// SetOptimizerState replaces the optimizer state with one
// produced by OptimizerState.
// On error, the optimizer is left unchanged.
//
// The caller must hold Lock.
func (m *Model) SetOptimizerState(data []byte) error {
	opt := newOptimizer(m.Params)
	if err := opt.UnmarshalBinary(data); err != nil {
		return errors.Wrap(err, "decode optimizer state")
	}
	m.optimizer = opt
	return nil
}

// Lock blocks steps until Unlock is called.
// It allows parameters to be read or written as a whole.
func (m *Model) Lock() {
	m.lock.Lock()
}

// Unlock undoes Lock.
func (m *Model) Unlock() {
	m.lock.Unlock()
}

func (m *Model) graph(inputs [][]int, weights [][]float64,
	bucketID int) (*bucketGraph, error) {
	if bucketID < 0 || bucketID >= len(m.graphs) {
		return nil, errors.Wrapf(bucketrnn.ErrShape, "bucket %d out of range", bucketID)
	}
	graph := m.graphs[bucketID]
	if err := bucketrnn.CheckShape(inputs, weights, graph.Bucket); err != nil {
		return nil, err
	}
	if len(inputs[0]) == 0 {
		return nil, errors.Wrap(bucketrnn.ErrShape, "empty batch")
	}
	for _, step := range inputs {
		for _, id := range step {
			if id < 0 || id >= m.Config.VocabSize {
				return nil, errors.Wrapf(bucketrnn.ErrShape, "token %d out of vocabulary", id)
			}
		}
	}
	return graph, nil
}

func newOptimizer(store *ParamStore) *anysgd.Adam {
	return &anysgd.Adam{
		DecayRate1: 0.9,
		DecayRate2: 0.999,
		Damping:    1e-8,
		Vars:       store.Parameters(),
	}
}

func globalNorm(g anydiff.Grad) float64 {
	var sum float64
	for _, v := range g {
		sum += v.Creator().Float64(v.Dot(v))
	}
	return math.Sqrt(sum)
}
