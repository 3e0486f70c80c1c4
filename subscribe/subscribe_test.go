package subscribe

import (
	"testing"
	"time"

	"goenip/config"
	"goenip/value"
)

func TestWithinDeadband_RealRespectsTolerance(t *testing.T) {
	prev := value.NewReal(10.0)
	cur := value.NewReal(10.05)
	if !withinDeadband(prev, cur, 0.1) {
		t.Error("expected 0.05 change to be suppressed by a 0.1 deadband")
	}
	if withinDeadband(prev, cur, 0.01) {
		t.Error("expected 0.05 change to clear a 0.01 deadband")
	}
}

func TestWithinDeadband_ZeroDeadbandRequiresExactMatch(t *testing.T) {
	prev := value.NewReal(10.0)
	cur := value.NewReal(10.000001)
	if withinDeadband(prev, cur, 0) {
		t.Error("expected any bit-level change to clear a zero deadband")
	}
}

func TestWithinDeadband_NonFloatTypesIgnoreDeadband(t *testing.T) {
	prev := value.NewDint(42)
	cur := value.NewDint(43)
	if withinDeadband(prev, cur, 100) {
		t.Error("expected DINT comparison to ignore the deadband tolerance entirely")
	}
	if !withinDeadband(prev, value.NewDint(42), 0) {
		t.Error("expected identical DINT values to compare equal")
	}
}

func TestWithinDeadband_DifferentKindsAlwaysDiffer(t *testing.T) {
	if withinDeadband(value.NewDint(1), value.NewReal(1), 100) {
		t.Error("values of different kinds should never compare equal")
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	cfg := config.SubscribeConfig{
		PollInterval:      500 * time.Millisecond,
		ChannelBufferSize: 64,
		StaleAfterMisses:  5,
		DeadbandDefault:   0.5,
	}
	o := Options{}.withDefaults(cfg)
	if o.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", o.PollInterval)
	}
	if o.BufferSize != 64 {
		t.Errorf("BufferSize = %d, want 64", o.BufferSize)
	}
	if o.StaleAfterMisses != 5 {
		t.Errorf("StaleAfterMisses = %d, want 5", o.StaleAfterMisses)
	}
	if o.Deadband != 0.5 {
		t.Errorf("Deadband = %v, want 0.5", o.Deadband)
	}
}

func TestOptions_WithDefaults_ExplicitValuesWin(t *testing.T) {
	o := Options{PollInterval: time.Second, StaleAfterMisses: 1}.withDefaults(config.SubscribeConfig{
		PollInterval:     500 * time.Millisecond,
		StaleAfterMisses: 5,
	})
	if o.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s (explicit value preserved)", o.PollInterval)
	}
	if o.StaleAfterMisses != 1 {
		t.Errorf("StaleAfterMisses = %d, want 1 (explicit value preserved)", o.StaleAfterMisses)
	}
}

func TestManager_RemoveUnknownAndList(t *testing.T) {
	m := NewManager(config.SubscribeConfig{})
	if got := m.List(); len(got) != 0 {
		t.Fatalf("new Manager.List() = %v, want empty", got)
	}

	// Add needs a live client, so only List and Remove are exercised: Remove
	// on an id that was never Added must be a no-op, not a panic.
	m.Remove("nonexistent")
	if got := m.List(); len(got) != 0 {
		t.Fatalf("List() after removing nonexistent id = %v, want empty", got)
	}
}
