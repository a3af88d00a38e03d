package bucketrnn

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrFetchTimeout is returned by a Lookahead when the
// producer does not deliver a batch in time.
// It is distinct from io.EOF, which signals that the
// producer finished.
var ErrFetchTimeout = errors.New("timed out waiting for batch")

type lookaheadItem struct {
	Batch *RawBatch
	Err   error
}

// A Lookahead reads a BatchSource on a background
// goroutine so that batches for future steps are produced
// while the current step is being computed.
//
// At most depth batches are buffered ahead of the
// consumer.
// A Lookahead must be read from a single goroutine.
type Lookahead struct {
	items   <-chan lookaheadItem
	done    chan struct{}
	stopped <-chan struct{}
	timeout time.Duration

	closeOnce sync.Once
	finished  bool
}

// NewLookahead starts producing batches from src.
//
// If timeout is 0, Next waits forever.
//
// The caller must call Close to free the producer, even if
// the source has been exhausted.
func NewLookahead(src BatchSource, depth int, timeout time.Duration) *Lookahead {
	if depth < 1 {
		panic("lookahead depth must be positive")
	}
	items := make(chan lookaheadItem, depth)
	stopped := make(chan struct{})
	res := &Lookahead{
		items:   items,
		done:    make(chan struct{}),
		stopped: stopped,
		timeout: timeout,
	}
	go res.produce(src, items, stopped)
	return res
}

// Next returns the next batch.
//
// It returns io.EOF once the source is exhausted or has
// produced a nil batch, and ErrFetchTimeout if no batch
// arrives within the timeout.
// Errors from the source are passed through, after which
// the Lookahead is finished.
func (l *Lookahead) Next() (*RawBatch, error) {
	if l.finished {
		return nil, io.EOF
	}
	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case item, ok := <-l.items:
		if !ok || (item.Err == nil && item.Batch == nil) {
			l.finished = true
			return nil, io.EOF
		}
		if item.Err != nil {
			l.finished = true
			return nil, item.Err
		}
		return item.Batch, nil
	case <-timeout:
		return nil, errors.Wrapf(ErrFetchTimeout, "after %v", l.timeout)
	}
}

// Close stops the producer and waits for it to exit.
//
// If the producer is stuck inside the source for longer
// than the fetch timeout, Close gives up waiting and
// returns ErrFetchTimeout; the producer exits as soon as
// the source returns.
//
// It is safe to call Close more than once.
func (l *Lookahead) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	if l.timeout <= 0 {
		<-l.stopped
		return nil
	}
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case <-l.stopped:
		return nil
	case <-timer.C:
		klog.Warningf("batch producer did not stop within %v", l.timeout)
		return errors.Wrap(ErrFetchTimeout, "close lookahead")
	}
}

func (l *Lookahead) produce(src BatchSource, items chan<- lookaheadItem,
	stopped chan<- struct{}) {
	defer close(stopped)
	defer close(items)
	for {
		select {
		case <-l.done:
			return
		default:
		}
		batch, err := src.NextBatch()
		select {
		case items <- lookaheadItem{Batch: batch, Err: err}:
		case <-l.done:
			return
		}
		if err != nil || batch == nil {
			return
		}
	}
}
