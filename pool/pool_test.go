package pool

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxConnections != 16 {
		t.Errorf("MaxConnections = %d, want 16", cfg.MaxConnections)
	}
	if cfg.MaxFailedAttempts != 3 {
		t.Errorf("MaxFailedAttempts = %d, want 3", cfg.MaxFailedAttempts)
	}
}

func TestConfig_WithDefaults_FillsZeroValues(t *testing.T) {
	cfg := Config{}.withDefaults()
	d := DefaultConfig()
	if cfg != d {
		t.Errorf("withDefaults() on zero Config = %+v, want %+v", cfg, d)
	}
}

func TestConfig_WithDefaults_PreservesSetFields(t *testing.T) {
	cfg := Config{MaxConnections: 4}.withDefaults()
	if cfg.MaxConnections != 4 {
		t.Errorf("MaxConnections = %d, want 4 (explicit value preserved)", cfg.MaxConnections)
	}
	if cfg.MaxFailedAttempts != DefaultConfig().MaxFailedAttempts {
		t.Errorf("MaxFailedAttempts should fall back to default when unset")
	}
}

func TestPool_RegisterAndResolve(t *testing.T) {
	p := New(DefaultConfig())
	defer p.Close()

	p.Register("line1-plc", "10.0.0.5:44818")

	if got := p.Resolve("line1-plc"); got != "10.0.0.5:44818" {
		t.Errorf("Resolve(registered name) = %q, want %q", got, "10.0.0.5:44818")
	}
	if got := p.Resolve("10.0.0.9:44818"); got != "10.0.0.9:44818" {
		t.Errorf("Resolve(bare address) = %q, want the address unchanged", got)
	}
}

func TestPool_StatsOnEmptyPool(t *testing.T) {
	p := New(DefaultConfig())
	defer p.Close()

	if n := p.Stats("10.0.0.5:44818"); n != 0 {
		t.Errorf("Stats on unused address = %d, want 0", n)
	}
}

func TestPool_CloseIsIdempotent(t *testing.T) {
	p := New(DefaultConfig())
	p.Close()
	p.Close()
}
