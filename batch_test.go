package bucketrnn

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func TestBuildBatchShape(t *testing.T) {
	buckets := Buckets{{3, 3}, {6, 8}}
	for length := 0; length <= 6; length++ {
		ex := make(Example, length)
		for i := range ex {
			ex[i] = 10 + i
		}
		id, _ := buckets.Assign(length)
		batch, err := BuildBatch([]Example{ex}, id, buckets, 4)
		if err != nil {
			t.Fatal(err)
		}
		if len(batch.Inputs) != buckets[id].Input {
			t.Errorf("length %d: got %d timesteps", length, len(batch.Inputs))
		}
		if len(batch.Weights) != buckets[id].Output {
			t.Errorf("length %d: got %d weight steps", length, len(batch.Weights))
		}
		for _, step := range batch.Inputs {
			if len(step) != 4 {
				t.Errorf("length %d: got step width %d", length, len(step))
			}
		}
		if batch.BatchSize() != 4 {
			t.Errorf("bad batch size %d", batch.BatchSize())
		}
	}
}

func TestBuildBatchMask(t *testing.T) {
	buckets := Buckets{{5, 5}}
	examples := []Example{
		{4, 5, 6},
		{7, 8, 9, 10, 11},
		{12},
	}
	batch, err := BuildBatch(examples, 0, buckets, 4)
	if err != nil {
		t.Fatal(err)
	}
	expectedInputs := [][]int{
		{4, 7, 12, PadID},
		{5, 8, PadID, PadID},
		{6, 9, PadID, PadID},
		{PadID, 10, PadID, PadID},
		{PadID, 11, PadID, PadID},
	}
	if !reflect.DeepEqual(batch.Inputs, expectedInputs) {
		t.Fatalf("expected inputs %v but got %v", expectedInputs, batch.Inputs)
	}
	for step, tokens := range batch.Inputs {
		for slot, token := range tokens {
			w := batch.Weights[step][slot]
			if (token == PadID) != (w == 0) {
				t.Errorf("step %d slot %d: token %d has weight %f", step, slot, token, w)
			}
			if w != 0 && w != 1 {
				t.Errorf("step %d slot %d: unexpected weight %f", step, slot, w)
			}
		}
	}
}

func TestBuildBatchLongDecoder(t *testing.T) {
	buckets := Buckets{{2, 4}}
	batch, err := BuildBatch([]Example{{5, 6}}, 0, buckets, 1)
	if err != nil {
		t.Fatal(err)
	}
	expected := [][]float64{{1}, {1}, {0}, {0}}
	if !reflect.DeepEqual(batch.Weights, expected) {
		t.Errorf("expected weights %v but got %v", expected, batch.Weights)
	}
}

func TestBuildBatchEmpty(t *testing.T) {
	batch, err := BuildBatch(nil, 0, Buckets{{3, 3}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	for step, tokens := range batch.Inputs {
		for slot, token := range tokens {
			if token != PadID || batch.Weights[step][slot] != 0 {
				t.Errorf("step %d slot %d: expected padding", step, slot)
			}
		}
	}
}

func TestBuildBatchAtCapacity(t *testing.T) {
	batch, err := BuildBatch([]Example{{5, 6, 7}}, 0, Buckets{{3, 3}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	for step, tokens := range batch.Inputs {
		if tokens[0] == PadID || batch.Weights[step][0] != 1 {
			t.Errorf("step %d: unexpected padding", step)
		}
	}
}

func TestBuildBatchErrors(t *testing.T) {
	buckets := Buckets{{3, 3}}
	if _, err := BuildBatch([]Example{{1, 2, 3, 4}}, 0, buckets, 2); errors.Cause(err) != ErrShape {
		t.Errorf("expected ErrShape for long example, got %v", err)
	}
	if _, err := BuildBatch([]Example{{5}, {6}, {7}}, 0, buckets, 2); errors.Cause(err) != ErrShape {
		t.Errorf("expected ErrShape for big batch, got %v", err)
	}
	if _, err := BuildBatch(nil, 1, buckets, 2); err == nil {
		t.Error("expected error for bad bucket")
	}
}

func TestCheckShape(t *testing.T) {
	bucket := Bucket{Input: 2, Output: 3}
	inputs := [][]int{{1, 2}, {3, 4}}
	weights := [][]float64{{1, 1}, {1, 1}, {0, 0}}
	if err := CheckShape(inputs, weights, bucket); err != nil {
		t.Error(err)
	}
	if err := CheckShape(inputs[:1], weights, bucket); errors.Cause(err) != ErrShape {
		t.Errorf("expected ErrShape, got %v", err)
	}
	if err := CheckShape(inputs, weights[:2], bucket); errors.Cause(err) != ErrShape {
		t.Errorf("expected ErrShape, got %v", err)
	}
	ragged := [][]int{{1, 2}, {3}}
	if err := CheckShape(ragged, weights, bucket); errors.Cause(err) != ErrShape {
		t.Errorf("expected ErrShape, got %v", err)
	}
}
