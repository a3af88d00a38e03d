package checkpoint

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/unixpickle/anyvec"
)

// Precision names stored in checkpoint metadata.
const (
	Float32 = "float32"
	Float64 = "float64"
)

// encodeVector appends the little-endian encoding of the
// vector to w and returns the precision used.
//
// The vector should use []float32 or []float64 as its
// numeric type.
func encodeVector(w io.Writer, v anyvec.Vector) (string, error) {
	switch data := v.Data().(type) {
	case []float32:
		encoded := make([]byte, len(data)*4)
		for i, num := range data {
			binary.LittleEndian.PutUint32(encoded[i<<2:], math.Float32bits(num))
		}
		_, err := w.Write(encoded)
		return Float32, err
	case []float64:
		return Float64, binary.Write(w, binary.LittleEndian, data)
	default:
		panic(fmt.Sprintf("unsupported anyvec.NumericList: %T", data))
	}
}

// decodeVector decodes a stored vector and converts it to
// the numeric type of c.
func decodeVector(c anyvec.Creator, precision string, data []byte) (anyvec.Vector, error) {
	var values []float64
	switch precision {
	case Float32:
		if len(data)%4 != 0 {
			return nil, errors.Errorf("float32 data has odd length %d", len(data))
		}
		values = make([]float64, len(data)/4)
		for i := range values {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i<<2:])))
		}
	case Float64:
		if len(data)%8 != 0 {
			return nil, errors.Errorf("float64 data has odd length %d", len(data))
		}
		values = make([]float64, len(data)/8)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i<<3:]))
		}
	default:
		return nil, errors.Errorf("unknown precision %q", precision)
	}

	switch c.MakeVector(0).Data().(type) {
	case []float32:
		list := make([]float32, len(values))
		for i, x := range values {
			list[i] = float32(x)
		}
		return c.MakeVectorData(list), nil
	case []float64:
		return c.MakeVectorData(values), nil
	default:
		panic("unsupported creator numeric type")
	}
}

// compress deflates data at the default level.
func compress(data []byte) []byte {
	var res bytes.Buffer
	w, err := flate.NewWriter(&res, flate.DefaultCompression)

	// Only throws an error if the level is invalid.
	if err != nil {
		panic(err)
	}

	w.Write(data)
	w.Close()
	return res.Bytes()
}

func decompress(data []byte) ([]byte, error) {
	var res bytes.Buffer
	reader := flate.NewReader(bytes.NewReader(data))
	defer reader.Close()
	if _, err := io.Copy(&res, reader); err != nil {
		return nil, errors.Wrap(err, "decompress")
	}
	return res.Bytes(), nil
}
