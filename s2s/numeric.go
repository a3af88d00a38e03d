package s2s

import (
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

// lossCreator runs the loss computations, which are done
// in float64 regardless of the model's numeric type.
var lossCreator anyvec.Creator = anyvec64.DefaultCreator{}

// float64Data copies the vector's contents into a list of
// float64 values.
func float64Data(v anyvec.Vector) []float64 {
	return v.Creator().Float64Slice(v.Data())
}

// makeVector creates a vector with the creator's numeric
// type from float64 data.
func makeVector(c anyvec.Creator, data []float64) anyvec.Vector {
	return c.MakeVectorData(c.MakeNumericList(data))
}

// to64 copies a vector into a lossCreator vector.
func to64(v anyvec.Vector) anyvec.Vector {
	return makeVector(lossCreator, float64Data(v))
}
