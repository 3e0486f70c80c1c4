package supervisor

import (
	"testing"

	"goenip/config"
)

func TestStatus_String(t *testing.T) {
	cases := []struct {
		status Status
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusError, "error"},
		{Status(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.status.String(); got != c.want {
			t.Errorf("Status(%d).String() = %q, want %q", c.status, got, c.want)
		}
	}
}

func TestManager_AddAndRemovePLC(t *testing.T) {
	cfg := &config.Config{}
	m := NewManager(cfg)
	defer m.pool.Close()

	m.AddPLC(&config.PLCConfig{Name: "Line1", Address: "10.0.0.5:44818", Enabled: true})

	plc := m.GetPLC("Line1")
	if plc == nil {
		t.Fatal("expected Line1 to be registered")
	}
	if plc.GetStatus() != StatusDisconnected {
		t.Errorf("newly added PLC status = %v, want StatusDisconnected", plc.GetStatus())
	}

	if got := len(m.ListPLCs()); got != 1 {
		t.Errorf("ListPLCs() len = %d, want 1", got)
	}

	m.RemovePLC("Line1")
	if m.GetPLC("Line1") != nil {
		t.Error("expected Line1 to be removed")
	}
}

func TestManager_ConnectUnknownPLCFails(t *testing.T) {
	m := NewManager(&config.Config{})
	defer m.pool.Close()

	if err := m.Connect("nonexistent"); err == nil {
		t.Fatal("expected an error connecting to an unregistered PLC")
	}
}

func TestManager_ReadWriteBeforeConnectFails(t *testing.T) {
	cfg := &config.Config{}
	m := NewManager(cfg)
	defer m.pool.Close()
	m.AddPLC(&config.PLCConfig{Name: "Line1", Address: "10.0.0.5:44818", Enabled: true})

	if _, err := m.ReadTag("Line1", "Counter"); err == nil {
		t.Error("expected ReadTag to fail before connecting")
	}
	if err := m.WriteTag("Line1", "Counter", int32(1)); err == nil {
		t.Error("expected WriteTag to fail before connecting")
	}
}

func TestManager_CheckHealthBeforeConnect(t *testing.T) {
	m := NewManager(&config.Config{})
	defer m.pool.Close()
	m.AddPLC(&config.PLCConfig{Name: "Line1", Address: "10.0.0.5:44818", Enabled: true})

	h := m.CheckHealth("Line1")
	if h.Online {
		t.Error("expected Online=false before connecting")
	}
	if h.Status != StatusDisconnected.String() {
		t.Errorf("Status = %q, want %q", h.Status, StatusDisconnected.String())
	}
}

func TestManager_ValueChangeListenersFire(t *testing.T) {
	m := NewManager(&config.Config{})
	defer m.pool.Close()

	received := make(chan ValueChange, 1)
	id := m.AddOnValueChangeListener(func(c ValueChange) { received <- c })
	defer m.RemoveOnValueChangeListener(id)

	m.fireValueChange(ValueChange{PLCName: "Line1", Tag: "Counter"})

	select {
	case c := <-received:
		if c.PLCName != "Line1" || c.Tag != "Counter" {
			t.Errorf("unexpected change: %+v", c)
		}
	default:
		t.Fatal("expected listener to fire synchronously")
	}
}
