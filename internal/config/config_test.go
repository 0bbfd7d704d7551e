package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Queues.Synthesize != "tasks.synthesize" {
		t.Fatalf("expected default synthesize queue, got %q", cfg.Queues.Synthesize)
	}
	if cfg.Segmenter.MaxChars != 2000 {
		t.Fatalf("expected default max_chars 2000, got %d", cfg.Segmenter.MaxChars)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NARRATA_SERVICE_NAME", "narrata-test")
	t.Setenv("NARRATA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("NARRATA_BUS_EMBEDDED", "false")
	t.Setenv("NARRATA_BUS_CONNECT_ATTEMPTS", "9")
	t.Setenv("NARRATA_QUEUE_SYNTHESIZE", "tasks.speak")
	t.Setenv("NARRATA_STATUS_STORE_PATH", "./tmp-status.db")
	t.Setenv("NARRATA_SEGMENTER_MAX_CHARS", "120")
	t.Setenv("NARRATA_ASSEMBLY_COLLECT_TIMEOUT_MS", "60000")
	t.Setenv("NARRATA_SYNTHESIS_MODE", "http")
	t.Setenv("NARRATA_SYNTHESIS_ENDPOINT", "http://tts:8000/synthesize")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServiceName != "narrata-test" {
		t.Fatalf("expected service name override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.ConnectAttempts != 9 {
		t.Fatalf("expected connect attempts 9, got %d", cfg.Bus.ConnectAttempts)
	}
	if cfg.Queues.Synthesize != "tasks.speak" {
		t.Fatalf("expected queue override, got %q", cfg.Queues.Synthesize)
	}
	if cfg.Status.Path != "./tmp-status.db" {
		t.Fatalf("expected status store path override")
	}
	if cfg.Segmenter.MaxChars != 120 {
		t.Fatalf("expected max_chars 120, got %d", cfg.Segmenter.MaxChars)
	}
	if cfg.Assembly.CollectTimeoutMS != 60000 {
		t.Fatalf("expected collect timeout override")
	}
	if cfg.Synthesis.Mode != "http" || cfg.Synthesis.Endpoint != "http://tts:8000/synthesize" {
		t.Fatalf("expected synthesis overrides, got %+v", cfg.Synthesis)
	}
}

func TestValidateRejectsBadSynthesisMode(t *testing.T) {
	t.Setenv("NARRATA_SYNTHESIS_MODE", "telepathy")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown synthesis mode")
	}
}
