package session

import "testing"

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateRegistering, "registering"},
		{StateRegistered, "registered"},
		{StateClosing, "closing"},
		{State(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.state, got, c.want)
		}
	}
}

func TestSession_ZeroValueIsSafe(t *testing.T) {
	var s Session
	if s.State() != StateDisconnected {
		t.Errorf("zero-value Session.State() = %v, want StateDisconnected", s.State())
	}
	if s.IsRegistered() {
		t.Error("zero-value Session.IsRegistered() = true, want false")
	}
	if s.Client() != nil {
		t.Error("zero-value Session.Client() = non-nil, want nil")
	}
	if s.Handle() != 0 {
		t.Errorf("zero-value Session.Handle() = %d, want 0", s.Handle())
	}
	if s.MaxPacketSize() != 0 {
		t.Errorf("zero-value Session.MaxPacketSize() = %d, want 0", s.MaxPacketSize())
	}
	if err := s.Ping(); err == nil {
		t.Error("zero-value Session.Ping() = nil error, want error for no active connection")
	}
	if err := s.Close(); err != nil {
		t.Errorf("zero-value Session.Close() = %v, want nil", err)
	}
}
