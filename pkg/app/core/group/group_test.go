package group

import (
	"testing"
	"time"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (c fixedClock) Now() time.Time                         { return c.t }

func TestDefaultValidInterval(t *testing.T) {
	cfg := Default()
	if cfg.ValidInterval != 60 {
		t.Fatalf("default valid interval = %d, want 60", cfg.ValidInterval)
	}
}

func TestNowTsUsesInjectedClock(t *testing.T) {
	fc := fixedClock{t: time.Unix(12345, 0)}
	if got := NowTs(fc); got != 12345 {
		t.Fatalf("NowTs = %d, want 12345", got)
	}
}
