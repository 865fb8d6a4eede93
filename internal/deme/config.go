package deme

import (
	"errors"
	"fmt"
)

var ErrUnknownPolicy = errors.New("unknown delivery policy")

// Policy selects how routed messages reach their target.
type Policy string

const (
	PolicyImmediate Policy = "immediate"
	PolicyDelayed   Policy = "delayed"
	PolicyPolled    Policy = "polled"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyImmediate, PolicyDelayed, PolicyPolled:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Handling selects what a machine does with a delivered message.
type Handling string

const (
	HandlingForking    Handling = "forking"
	HandlingNonForking Handling = "non-forking"
)

func ParseHandling(s string) (Handling, error) {
	switch h := Handling(s); h {
	case HandlingForking, HandlingNonForking:
		return h, nil
	default:
		return "", fmt.Errorf("unknown message handling: %q", s)
	}
}

const (
	DefaultWidth         = 5
	DefaultHeight        = 5
	DefaultInboxCapacity = 8
	DefaultMaxThreads    = 16
)

// Config is fixed for the lifetime of a Deme.
type Config struct {
	Width         int
	Height        int
	Policy        Policy
	Latency       int
	InboxCapacity int
	Handling      Handling
	MaxThreads    int
}

func DefaultConfig() Config {
	return Config{
		Width:         DefaultWidth,
		Height:        DefaultHeight,
		Policy:        PolicyImmediate,
		Latency:       1,
		InboxCapacity: DefaultInboxCapacity,
		Handling:      HandlingForking,
		MaxThreads:    DefaultMaxThreads,
	}
}

func (c Config) Size() int { return c.Width * c.Height }

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("deme dimensions must be positive: %dx%d", c.Width, c.Height)
	}
	if _, err := ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	if _, err := ParseHandling(string(c.Handling)); err != nil {
		return err
	}
	if c.Policy == PolicyDelayed && c.Latency < 1 {
		return fmt.Errorf("delayed delivery requires latency >= 1, got %d", c.Latency)
	}
	if c.InboxCapacity <= 0 {
		return fmt.Errorf("inbox capacity must be positive, got %d", c.InboxCapacity)
	}
	if c.MaxThreads <= 0 {
		return fmt.Errorf("max threads must be positive, got %d", c.MaxThreads)
	}
	return nil
}
