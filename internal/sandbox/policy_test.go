package sandbox

import (
	"slices"
	"testing"
	"time"
)

func TestDefaultPolicy_Valid(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if p.CPUQuota() != 100000 {
		t.Errorf("CPUQuota() = %d, want 100000", p.CPUQuota())
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"no image", func(p *Policy) { p.Image = "" }},
		{"no volume", func(p *Policy) { p.CacheVolume = " " }},
		{"relative cache path", func(p *Policy) { p.CachePath = "cache" }},
		{"zero memory", func(p *Policy) { p.Memory = 0 }},
		{"tiny cpu", func(p *Policy) { p.CPUs = 0.001 }},
		{"host network", func(p *Policy) { p.NetworkMode = "host" }},
		{"no command", func(p *Policy) { p.Command = nil }},
		{"no timeout", func(p *Policy) { p.Timeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPolicy_ValidateDeadline(t *testing.T) {
	p := DefaultPolicy()
	p.Timeout = 150 * time.Second
	p.CleanupGrace = 10 * time.Second

	if err := p.ValidateDeadline(180 * time.Second); err != nil {
		t.Errorf("180s deadline: %v", err)
	}
	if err := p.ValidateDeadline(160 * time.Second); err == nil {
		t.Error("expected 160s deadline to be rejected")
	}
	if err := p.ValidateDeadline(0); err != nil {
		t.Errorf("no deadline: %v", err)
	}
}

func TestPolicy_Environment(t *testing.T) {
	p := DefaultPolicy()

	got := p.Environment(map[string]string{
		"ZED":        "last",
		"ALPHA":      "first",
		"":           "dropped",
		"BAD=KEY":    "dropped",
		"  PADDED  ": "dropped",
	})
	want := []string{
		"ALPHA=first",
		"SENTENCE_TRANSFORMERS_HOME=/huggingface_cache",
		"ZED=last",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Environment() = %v, want %v", got, want)
	}

	// A padded duplicate never competes with the exact key.
	for i := 0; i < 20; i++ {
		got = p.Environment(map[string]string{" A": "padded", "A": "exact", "A ": "padded"})
		if !slices.Contains(got, "A=exact") || len(got) != 2 {
			t.Fatalf("padded keys leaked: %v", got)
		}
	}

	got = p.Environment(map[string]string{"SENTENCE_TRANSFORMERS_HOME": "/elsewhere"})
	if !slices.Equal(got, []string{"SENTENCE_TRANSFORMERS_HOME=/elsewhere"}) {
		t.Errorf("override not applied: %v", got)
	}
}
