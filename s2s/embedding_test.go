package s2s

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/bucketrnn"
)

func TestEmbeddingsLookup(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	emb := NewEmbeddings(c, 5, 2, rand.New(rand.NewSource(1)))
	vecs := [][]float64{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}}
	if err := emb.Assign(vecs); err != nil {
		t.Fatal(err)
	}
	vecs[4][0] = 100

	actual := emb.Lookup([]int{4, 1, 9}).Data().([]float64)
	expected := []float64{4, 4, 1, 1, bucketrnn.UnkID, bucketrnn.UnkID}
	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("expected %v but got %v", expected, actual)
	}

	if emb.Assign(vecs[1:]) == nil {
		t.Error("expected error for wrong vocab size")
	}
	if emb.Assign([][]float64{{0}, {0}, {0}, {0}, {0}}) == nil {
		t.Error("expected error for wrong dimension")
	}
}

func TestGraphSteps(t *testing.T) {
	g := &bucketGraph{Bucket: bucketrnn.Bucket{Input: 3, Output: 5}}
	inputs := [][]int{{4, 5}, {6, 0}, {7, 0}}
	enc := g.encoderSteps(inputs)
	if !reflect.DeepEqual(enc, [][]int{{7, 0}, {6, 0}, {4, 5}}) {
		t.Errorf("bad encoder steps: %v", enc)
	}
	dec := g.decoderSteps(inputs)
	expected := [][]int{{1, 1}, {4, 5}, {6, 0}, {7, 0}, {0, 0}}
	if !reflect.DeepEqual(dec, expected) {
		t.Errorf("bad decoder steps: %v", dec)
	}
	targets := g.targets(inputs)
	expected = [][]int{{4, 5}, {6, 0}, {7, 0}, {0, 0}, {0, 0}}
	if !reflect.DeepEqual(targets, expected) {
		t.Errorf("bad targets: %v", targets)
	}
}
