package timesync

import (
	"testing"
	"time"

	"covey/internal/event"
)

func TestCheckerUsesInjectedCheck(t *testing.T) {
	c := NewChecker(event.RealClock{})
	if got := c.Status().Phase; got != Unchecked {
		t.Fatalf("initial phase = %s, want unchecked", got)
	}

	c.CheckFunc = func() Status {
		return Status{Offset: 50 * time.Millisecond, Phase: Healthy, CheckedAt: time.Now()}
	}
	c.sample()

	st := c.Status()
	if st.Phase != Healthy {
		t.Errorf("phase = %s, want healthy", st.Phase)
	}
	if st.Offset != 50*time.Millisecond {
		t.Errorf("offset = %v", st.Offset)
	}
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		p    Phase
		want string
	}{
		{Unchecked, "unchecked"},
		{Healthy, "healthy"},
		{Skewed, "skewed"},
		{Errored, "error"},
		{Phase(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}
