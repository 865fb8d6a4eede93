package deme

import (
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "default", mutate: func(*Config) {}, ok: true},
		{name: "zero width", mutate: func(c *Config) { c.Width = 0 }},
		{name: "bad handling", mutate: func(c *Config) { c.Handling = "clone" }},
		{name: "delayed zero latency", mutate: func(c *Config) { c.Policy = PolicyDelayed; c.Latency = 0 }},
		{name: "immediate ignores latency", mutate: func(c *Config) { c.Latency = 0 }, ok: true},
		{name: "no inbox", mutate: func(c *Config) { c.InboxCapacity = 0 }},
		{name: "no threads", mutate: func(c *Config) { c.MaxThreads = 0 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	for _, name := range []string{"immediate", "delayed", "polled"} {
		if _, err := ParsePolicy(name); err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
	}
	if _, err := ParsePolicy("broadcast"); !errors.Is(err, ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
}
