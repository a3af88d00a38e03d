// Package bucketrnn provides the bucketing, batching and
// producer/consumer plumbing used to train sequence to
// sequence recurrent networks on variable-length data.
//
// Sequences are grouped into buckets by length so that a
// fixed-shape computation can be run for every bucket
// without padding everything to the longest sequence.
// The model itself lives in the s2s sub-package, and the
// training loop lives in the train sub-package.
package bucketrnn

import "github.com/pkg/errors"

// Reserved token ids.
//
// Every vocabulary used with this package must reserve
// these ids for the corresponding special tokens.
const (
	PadID = 0
	GoID  = 1
	EOSID = 2
	UnkID = 3

	// NumReserved is the number of reserved ids.
	// The first real word has id NumReserved.
	NumReserved = 4
)

var (
	// ErrShape indicates that a batch does not have the
	// dimensions declared by its bucket.
	ErrShape = errors.New("batch shape mismatch")

	// ErrSequenceTooLong is returned when a sequence does
	// not fit in any bucket and the overflow policy rejects
	// such sequences.
	ErrSequenceTooLong = errors.New("sequence longer than largest bucket")
)

// An Example is a sequence of token ids.
type Example []int

// A RawBatch is a group of examples which all belong to the
// same bucket.
// It is what a BatchSource produces before padding.
type RawBatch struct {
	Examples []Example
	Bucket   int
}

// A BatchSource produces raw batches.
//
// NextBatch returns (nil, nil) once the source is
// exhausted.
// A source is only ever read from one goroutine at a time.
type BatchSource interface {
	NextBatch() (*RawBatch, error)
}

// SliceSource is a BatchSource which yields a fixed list of
// batches in order.
type SliceSource struct {
	Batches []*RawBatch
}

// NextBatch returns the next batch in the list.
func (s *SliceSource) NextBatch() (*RawBatch, error) {
	if len(s.Batches) == 0 {
		return nil, nil
	}
	res := s.Batches[0]
	s.Batches = s.Batches[1:]
	return res, nil
}
