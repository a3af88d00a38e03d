// Package checkpoint saves and restores model parameters,
// the global step and the learning rate.
//
// A checkpoint for step N is stored as three files in the
// training directory: translate.ckpt-N.json holds the
// metadata, translate.ckpt-N.bin holds the compressed
// parameter data and translate.ckpt-N.opt holds the
// compressed optimizer state.
// A file named "checkpoint" records the latest checkpoint.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"k8s.io/klog/v2"
)

const (
	// Prefix is the base name of every checkpoint.
	Prefix = "translate.ckpt"

	// JSONSuffix is appended to a checkpoint path to get
	// its metadata file.
	JSONSuffix = ".json"

	// BinSuffix is appended to a checkpoint path to get its
	// parameter data file.
	BinSuffix = ".bin"

	// OptSuffix is appended to a checkpoint path to get its
	// optimizer state file.
	OptSuffix = ".opt"

	// IndexFile names the latest checkpoint.
	IndexFile = "checkpoint"
)

// A Model is anything whose parameters and training state
// can be checkpointed.
//
// Lock must prevent the parameters from changing until
// Unlock is called.
// Parameters, ParameterNames and the optimizer state
// methods are called while locked; the remaining methods
// are not.
type Model interface {
	GlobalStep() int64
	LearningRate() float64
	SetState(step int64, learningRate float64)
	Parameters() []*anydiff.Var
	ParameterNames() []string
	OptimizerState() ([]byte, error)
	SetOptimizerState(data []byte) error
	Lock()
	Unlock()
}

// Metadata is the contents of a checkpoint's JSON file.
type Metadata struct {
	GlobalStep   int64       `json:"global_step"`
	LearningRate float64     `json:"learning_rate"`
	Precision    string      `json:"precision"`
	Created      time.Time   `json:"created"`
	Params       []ParamInfo `json:"params"`
}

// ParamInfo locates one parameter in the uncompressed data.
type ParamInfo struct {
	Name   string `json:"name"`
	Size   int    `json:"size"`
	Pos    int    `json:"pos"`
	Length int    `json:"length"`
}

// A Manager saves checkpoints into a directory.
type Manager struct {
	Dir string

	// Keep is the number of checkpoints to retain.
	// If it is 0 or less, all checkpoints are kept.
	Keep int
}

// NewManager creates a Manager, creating the directory if
// needed.
func NewManager(dir string, keep int) (*Manager, error) {
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return nil, errors.Errorf("checkpoint directory %q is a regular file", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create checkpoint directory %q", dir)
	}
	return &Manager{Dir: dir, Keep: keep}, nil
}

func (m *Manager) String() string {
	return fmt.Sprintf("checkpoint.Manager(%s)", m.Dir)
}

// Path returns the base path of the checkpoint for a step.
func (m *Manager) Path(step int64) string {
	return filepath.Join(m.Dir, fmt.Sprintf("%s-%d", Prefix, step))
}

// Save writes a checkpoint for the model's current step and
// returns its base path.
//
// Each file is written to a temporary file and renamed, so
// a crash never leaves a partially written checkpoint
// under the final name.
func (m *Manager) Save(model Model) (string, error) {
	meta := &Metadata{
		GlobalStep:   model.GlobalStep(),
		LearningRate: model.LearningRate(),
		Created:      time.Now(),
	}

	var data bytes.Buffer
	model.Lock()
	names := model.ParameterNames()
	for i, p := range model.Parameters() {
		pos := data.Len()
		precision, err := encodeVector(&data, p.Vector)
		if err != nil {
			model.Unlock()
			return "", errors.Wrapf(err, "%s: encode parameter %s", m, names[i])
		}
		meta.Precision = precision
		meta.Params = append(meta.Params, ParamInfo{
			Name:   names[i],
			Size:   p.Vector.Len(),
			Pos:    pos,
			Length: data.Len() - pos,
		})
	}
	optState, err := model.OptimizerState()
	model.Unlock()
	if err != nil {
		return "", errors.Wrapf(err, "%s", m)
	}

	path := m.Path(meta.GlobalStep)
	if err := writeAtomic(path+BinSuffix, compress(data.Bytes())); err != nil {
		return "", errors.Wrapf(err, "%s: write data file", m)
	}
	if err := writeAtomic(path+OptSuffix, compress(optState)); err != nil {
		return "", errors.Wrapf(err, "%s: write optimizer file", m)
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "%s: encode metadata", m)
	}
	if err := writeAtomic(path+JSONSuffix, metaData); err != nil {
		return "", errors.Wrapf(err, "%s: write metadata file", m)
	}
	index := []byte(filepath.Base(path) + "\n")
	if err := writeAtomic(filepath.Join(m.Dir, IndexFile), index); err != nil {
		return "", errors.Wrapf(err, "%s: write index", m)
	}
	klog.V(1).Infof("saved checkpoint %s", path)

	if err := m.prune(); err != nil {
		return path, err
	}
	return path, nil
}

// Latest returns the base path of the latest checkpoint, or
// "" if there is none.
func (m *Manager) Latest() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.Dir, IndexFile))
	if os.IsNotExist(err) {
		return "", nil
	} else if err != nil {
		return "", errors.Wrapf(err, "%s: read index", m)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", errors.Errorf("%s: empty index", m)
	}
	return filepath.Join(m.Dir, name), nil
}

// Steps lists the steps of the saved checkpoints in
// ascending order.
func (m *Manager) Steps() ([]int64, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: list checkpoints", m)
	}
	var res []int64
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, Prefix+"-") || !strings.HasSuffix(name, JSONSuffix) {
			continue
		}
		stepStr := strings.TrimSuffix(strings.TrimPrefix(name, Prefix+"-"), JSONSuffix)
		step, err := strconv.ParseInt(stepStr, 10, 64)
		if err != nil {
			continue
		}
		res = append(res, step)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i] < res[j]
	})
	return res, nil
}

// Restore loads a checkpoint into the model.
//
// The parameters are only modified if the whole checkpoint
// could be read and matches the model's parameters.
// A missing or unusable optimizer state is logged, and the
// model's optimizer is then left as it was.
func (m *Manager) Restore(model Model, path string) (*Metadata, error) {
	metaData, err := os.ReadFile(path + JSONSuffix)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read metadata", m)
	}
	var meta Metadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, errors.Wrapf(err, "%s: decode metadata %s", m, path+JSONSuffix)
	}
	compressed, err := os.ReadFile(path + BinSuffix)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read data", m)
	}
	data, err := decompress(compressed)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: data file %s", m, path+BinSuffix)
	}

	model.Lock()
	defer model.Unlock()

	params := model.Parameters()
	names := model.ParameterNames()
	if len(meta.Params) != len(params) {
		return nil, errors.Errorf("%s: checkpoint has %d parameters but model has %d",
			m, len(meta.Params), len(params))
	}
	var decoded []anyvec.Vector
	for i, info := range meta.Params {
		p := params[i]
		if info.Name != names[i] || info.Size != p.Vector.Len() {
			return nil, errors.Errorf("%s: parameter %d is %s (size %d), expected %s (size %d)",
				m, i, info.Name, info.Size, names[i], p.Vector.Len())
		}
		if info.Pos < 0 || info.Length < 0 || info.Pos+info.Length > len(data) {
			return nil, errors.Errorf("%s: parameter %s out of bounds", m, info.Name)
		}
		vec, err := decodeVector(p.Vector.Creator(), meta.Precision,
			data[info.Pos:info.Pos+info.Length])
		if err != nil {
			return nil, errors.Wrapf(err, "%s: parameter %s", m, info.Name)
		}
		if vec.Len() != info.Size {
			return nil, errors.Errorf("%s: parameter %s has %d values, expected %d",
				m, info.Name, vec.Len(), info.Size)
		}
		decoded = append(decoded, vec)
	}
	for i, v := range decoded {
		params[i].Vector.Set(v)
	}
	if err := m.restoreOptimizer(model, path); err != nil {
		klog.Warningf("%v; using fresh optimizer state", err)
	}
	return &meta, nil
}

func (m *Manager) restoreOptimizer(model Model, path string) error {
	compressed, err := os.ReadFile(path + OptSuffix)
	if err != nil {
		return errors.Wrapf(err, "%s: read optimizer state", m)
	}
	data, err := decompress(compressed)
	if err != nil {
		return errors.Wrapf(err, "%s: optimizer file %s", m, path+OptSuffix)
	}
	return errors.Wrapf(model.SetOptimizerState(data), "%s", m)
}

// RestoreOrInit restores the latest checkpoint that can be
// read, and reports whether it restored one.
//
// The checkpoint named by the index is tried first, then
// the remaining checkpoints from newest to oldest.
// If none can be restored, the model keeps its fresh
// parameters.
func (m *Manager) RestoreOrInit(model Model) bool {
	paths, err := m.candidates()
	if err != nil {
		klog.Warningf("%v; using fresh parameters", err)
		return false
	}
	if len(paths) == 0 {
		klog.Infof("Created model with fresh parameters.")
		return false
	}
	for _, path := range paths {
		meta, err := m.Restore(model, path)
		if err != nil {
			klog.Warningf("could not restore %s: %v", path, err)
			continue
		}
		model.SetState(meta.GlobalStep, meta.LearningRate)
		klog.Infof("Reading model parameters from %s", path)
		return true
	}
	klog.Warningf("no usable checkpoint in %s; using fresh parameters", m.Dir)
	return false
}

// candidates lists the checkpoints to try when restoring,
// in order of preference.
func (m *Manager) candidates() ([]string, error) {
	var res []string
	latest, err := m.Latest()
	if err != nil {
		klog.Warning(err)
	} else if latest != "" {
		res = append(res, latest)
	}
	steps, err := m.Steps()
	if err != nil {
		return nil, err
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if path := m.Path(steps[i]); path != latest {
			res = append(res, path)
		}
	}
	return res, nil
}

// prune removes the oldest checkpoints beyond Keep.
func (m *Manager) prune() error {
	if m.Keep <= 0 {
		return nil
	}
	steps, err := m.Steps()
	if err != nil {
		return err
	}
	if len(steps) <= m.Keep {
		return nil
	}
	for _, step := range steps[:len(steps)-m.Keep] {
		path := m.Path(step)
		for _, name := range []string{path + BinSuffix, path + OptSuffix, path + JSONSuffix} {
			if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "%s: remove old checkpoint file %q", m, name)
			}
		}
		klog.V(1).Infof("removed old checkpoint %s", path)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
