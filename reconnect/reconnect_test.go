package reconnect

import (
	"testing"
	"time"

	"repairedge/config"
)

func TestBackoffGrowsThenCoolsDown(t *testing.T) {
	tr := NewTracker(Policy{Base: 100 * time.Millisecond, Max: 350 * time.Millisecond, Threshold: 4, Cooldown: 5 * time.Second})
	now := time.Unix(1000, 0)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		350 * time.Millisecond, // capped
		5 * time.Second,        // breaker open
		5 * time.Second,
	}
	for i, w := range want {
		if got := tr.Fail(now); got != w {
			t.Errorf("failure %d: wait = %v, want %v", i+1, got, w)
		}
	}
	if !tr.Open() {
		t.Error("breaker should be open after threshold")
	}
}

func TestReadyHonoursNextAttempt(t *testing.T) {
	tr := NewTracker(Policy{Base: time.Second, Max: time.Second, Threshold: 3, Cooldown: time.Minute})
	now := time.Unix(1000, 0)
	if !tr.Ready(now) {
		t.Fatal("fresh tracker should be ready")
	}
	tr.Fail(now)
	if tr.Ready(now.Add(500 * time.Millisecond)) {
		t.Error("should not be ready before backoff elapses")
	}
	if !tr.Ready(now.Add(time.Second)) {
		t.Error("should be ready once backoff elapses")
	}
	tr.Succeed()
	if tr.Failures() != 0 || !tr.Ready(now) {
		t.Error("Succeed should reset the tracker")
	}
}

func TestFromConfigDefaults(t *testing.T) {
	p := FromConfig(config.ReconnectConfig{})
	if p.Base <= 0 || p.Max < p.Base || p.Threshold <= 0 || p.Cooldown <= 0 {
		t.Errorf("FromConfig left zero fields: %+v", p)
	}
}
