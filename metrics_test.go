package bucketrnn

import (
	"math"
	"testing"
	"time"
)

func TestPerplexity(t *testing.T) {
	if p := Perplexity(0); p != 1 {
		t.Errorf("expected 1 but got %f", p)
	}
	if p := Perplexity(300); !math.IsInf(p, 1) {
		t.Errorf("expected +Inf but got %f", p)
	}
	if p := Perplexity(1000); !math.IsInf(p, 1) {
		t.Errorf("expected +Inf but got %f", p)
	}
	p := Perplexity(299.999)
	if math.IsInf(p, 0) || math.Abs(p/math.Exp(299.999)-1) > 1e-9 {
		t.Errorf("unexpected perplexity %g", p)
	}
}

func TestLossTracker(t *testing.T) {
	tracker := &LossTracker{Interval: 4}
	for i := 0; i < 3; i++ {
		if tracker.Add(float64(i), time.Second) {
			t.Fatal("interval finished early")
		}
	}
	if !tracker.Add(3, time.Second) {
		t.Fatal("interval should be finished")
	}
	if l := tracker.Loss(); l != 1.5 {
		t.Errorf("expected loss 1.5 but got %f", l)
	}
	if s := tracker.StepTime(); s != 1 {
		t.Errorf("expected step time 1 but got %f", s)
	}
	tracker.Reset()
	if tracker.Steps() != 0 || tracker.Loss() != 0 {
		t.Error("reset did not clear tracker")
	}
}

func TestDecayPolicy(t *testing.T) {
	policy := &DecayPolicy{Enabled: true}
	for _, loss := range []float64{3, 2, 1} {
		if policy.Observe(loss) {
			t.Fatal("decayed without enough history")
		}
	}
	if policy.Observe(2.5) {
		t.Error("decayed although loss did not exceed window max")
	}
	if !policy.Observe(3.5) {
		t.Error("expected decay")
	}

	disabled := &DecayPolicy{}
	for _, loss := range []float64{1, 1, 1, 5} {
		if disabled.Observe(loss) {
			t.Error("disabled policy fired")
		}
	}
}
