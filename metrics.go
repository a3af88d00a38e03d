package bucketrnn

import (
	"math"
	"time"
)

// MaxPerplexityLoss is the loss at and above which
// Perplexity reports +Inf instead of overflowing.
const MaxPerplexityLoss = 300

// Perplexity computes exp(loss), or +Inf if the loss is at
// least MaxPerplexityLoss.
func Perplexity(loss float64) float64 {
	if loss >= MaxPerplexityLoss {
		return math.Inf(1)
	}
	return math.Exp(loss)
}

// A LossTracker averages the loss and step time over a
// fixed interval of steps.
type LossTracker struct {
	Interval int

	lossSum float64
	timeSum time.Duration
	steps   int
}

// Add records one step.
// It returns true once Interval steps have been recorded
// since the last Reset.
func (l *LossTracker) Add(loss float64, elapsed time.Duration) bool {
	l.lossSum += loss
	l.timeSum += elapsed
	l.steps++
	return l.steps >= l.Interval
}

// Loss returns the mean loss over the interval.
//
// Like the step time, the sum is divided by the interval
// rather than by the number of recorded steps.
func (l *LossTracker) Loss() float64 {
	return l.lossSum / float64(l.Interval)
}

// StepTime returns the mean step time in seconds.
func (l *LossTracker) StepTime() float64 {
	return l.timeSum.Seconds() / float64(l.Interval)
}

// Steps returns the number of steps recorded since the
// last Reset.
func (l *LossTracker) Steps() int {
	return l.steps
}

// Reset clears the accumulators.
func (l *LossTracker) Reset() {
	l.lossSum = 0
	l.timeSum = 0
	l.steps = 0
}

// A DecayPolicy decides when to decay the learning rate.
//
// When enabled, it fires whenever an interval's loss is
// greater than every one of the previous Window interval
// losses.
type DecayPolicy struct {
	Enabled bool
	Window  int

	history []float64
}

// Observe records an interval loss and reports whether the
// learning rate should be decayed.
func (d *DecayPolicy) Observe(loss float64) bool {
	window := d.Window
	if window == 0 {
		window = 3
	}
	decay := false
	if d.Enabled && len(d.history) >= window {
		decay = true
		for _, old := range d.history[len(d.history)-window:] {
			if loss <= old {
				decay = false
				break
			}
		}
	}
	d.history = append(d.history, loss)
	return decay
}
