package s2s

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/bucketrnn"
)

const embeddingInitStddev = 0.1

// Embeddings is a fixed table of word vectors.
//
// The table is not trained; it is assigned once from
// pre-computed vectors.
type Embeddings struct {
	VocabSize int
	Dim       int

	// Table packs the vectors row by row.
	Table anyvec.Vector
}

// NewEmbeddings creates a randomly initialized table.
func NewEmbeddings(c anyvec.Creator, vocabSize, dim int, rng *rand.Rand) *Embeddings {
	table := c.MakeVector(vocabSize * dim)
	anyvec.Rand(table, anyvec.Normal, rng)
	table.Scale(c.MakeNumeric(embeddingInitStddev))
	return &Embeddings{VocabSize: vocabSize, Dim: dim, Table: table}
}

// Assign replaces the table contents.
//
// The number of vectors and their dimension must match the
// existing table.
func (e *Embeddings) Assign(vectors [][]float64) error {
	if len(vectors) != e.VocabSize {
		return errors.Errorf("expected %d embeddings but got %d", e.VocabSize,
			len(vectors))
	}
	data := make([]float64, 0, e.VocabSize*e.Dim)
	for i, vec := range vectors {
		if len(vec) != e.Dim {
			return errors.Errorf("embedding %d: expected dimension %d but got %d",
				i, e.Dim, len(vec))
		}
		data = append(data, vec...)
	}
	e.Table.Set(makeVector(e.Table.Creator(), data))
	return nil
}

// Lookup packs the embeddings for a list of token ids into
// a single vector.
//
// Ids outside the table map to the UNK embedding.
func (e *Embeddings) Lookup(ids []int) anyvec.Vector {
	table := make([]int, 0, len(ids)*e.Dim)
	for _, id := range ids {
		if id < 0 || id >= e.VocabSize {
			id = bucketrnn.UnkID
		}
		for i := 0; i < e.Dim; i++ {
			table = append(table, id*e.Dim+i)
		}
	}
	c := e.Table.Creator()
	mapper := c.MakeMapper(e.Table.Len(), table)
	res := c.MakeVector(mapper.OutSize())
	mapper.Map(e.Table, res)
	return res
}

// Steps embeds a timestep-major list of token ids.
func (e *Embeddings) Steps(steps [][]int) []*anyseq.Batch {
	res := make([]*anyseq.Batch, len(steps))
	for t, ids := range steps {
		present := make([]bool, len(ids))
		for i := range present {
			present[i] = true
		}
		res[t] = &anyseq.Batch{
			Packed:  e.Lookup(ids),
			Present: present,
		}
	}
	return res
}
