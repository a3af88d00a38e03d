package bucketrnn

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// A Bucket is a length class for sequences.
//
// Input is the maximum input length processed by the
// bucket, and Output is the number of decoder steps.
type Bucket struct {
	Input  int
	Output int
}

// MarshalJSON encodes the bucket as a two-element array.
func (b Bucket) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{b.Input, b.Output})
}

// UnmarshalJSON decodes a two-element array.
func (b *Bucket) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return errors.Wrap(err, "unmarshal bucket")
	}
	b.Input, b.Output = pair[0], pair[1]
	return nil
}

func (b Bucket) String() string {
	return fmt.Sprintf("(%d,%d)", b.Input, b.Output)
}

// Buckets is an ordered list of buckets, sorted in
// ascending order of input capacity.
type Buckets []Bucket

// Validate makes sure the list is non-empty, sorted, and
// that every bucket has positive dimensions.
func (b Buckets) Validate() error {
	if len(b) == 0 {
		return errors.New("no buckets")
	}
	for i, bucket := range b {
		if bucket.Input < 1 || bucket.Output < 1 {
			return errors.Errorf("bucket %d has invalid size %v", i, bucket)
		}
		if i > 0 && b[i-1].Input > bucket.Input {
			return errors.Errorf("buckets not sorted: %v before %v", b[i-1], bucket)
		}
	}
	return nil
}

// Last returns the largest bucket.
func (b Buckets) Last() Bucket {
	return b[len(b)-1]
}

// Assign finds the first bucket which can hold a sequence
// of the given length.
//
// If no bucket is large enough, the last bucket is
// returned and fits is false.
func (b Buckets) Assign(length int) (id int, fits bool) {
	for i, bucket := range b {
		if bucket.Input >= length {
			return i, true
		}
	}
	return len(b) - 1, false
}

func (b Buckets) String() string {
	parts := make([]string, len(b))
	for i, x := range b {
		parts[i] = x.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// An OverflowPolicy decides what happens to sequences that
// do not fit in the largest bucket.
type OverflowPolicy int

const (
	// Truncate cuts long sequences down to the capacity of
	// the largest bucket.
	Truncate OverflowPolicy = iota

	// Reject refuses long sequences with
	// ErrSequenceTooLong.
	Reject
)

// ParseOverflowPolicy parses "truncate" or "reject".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(s) {
	case "", "truncate":
		return Truncate, nil
	case "reject":
		return Reject, nil
	}
	return 0, errors.Errorf("unknown overflow policy: %q", s)
}

func (o OverflowPolicy) String() string {
	if o == Reject {
		return "reject"
	}
	return "truncate"
}

// Place assigns the example to a bucket, applying the
// overflow policy if the example is too long for every
// bucket.
//
// The returned example may be a truncated copy of ex.
func (b Buckets) Place(ex Example, policy OverflowPolicy) (int, Example, error) {
	id, fits := b.Assign(len(ex))
	if fits {
		return id, ex, nil
	}
	capacity := b[id].Input
	if policy == Reject {
		return 0, nil, errors.Wrapf(ErrSequenceTooLong, "length %d exceeds %d",
			len(ex), capacity)
	}
	klog.V(1).Infof("truncating sequence of length %d to %d", len(ex), capacity)
	return id, append(Example{}, ex[:capacity]...), nil
}
