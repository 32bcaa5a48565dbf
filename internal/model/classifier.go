package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrInputShape       = errors.New("input does not match model shape")
	ErrModelOutput      = errors.New("model produced an unusable output")
)

type Classifier struct {
	Metadata Metadata

	mu      sync.Mutex
	session Session
}

func NewClassifier(meta Metadata, session Session) *Classifier {
	return &Classifier{Metadata: meta, session: session}
}

// Predict runs one forward pass and returns the raw output values.
func (c *Classifier) Predict(input []float32) ([]float32, error) {
	if want := c.Metadata.InputSize(); len(input) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInputShape, want, len(input))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.session.Run(input)
	if err != nil {
		return nil, err
	}
	if len(out) < c.Metadata.OutputSize() {
		return nil, fmt.Errorf("%w: got %d values, expected %d", ErrModelOutput, len(out), c.Metadata.OutputSize())
	}
	for i, v := range out[:c.Metadata.OutputSize()] {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: value %d is %v", ErrModelOutput, i, v)
		}
	}
	return out, nil
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Close()
}

type LoadFunc func(ctx context.Context) (*Classifier, error)

// Handle loads a classifier on first use and keeps it for the process
// lifetime. A failed load is remembered as well: every later Get returns an
// error wrapping ErrModelUnavailable instead of retrying.
type Handle struct {
	name string
	load LoadFunc
	// base bounds every load; cancelling it aborts a load in progress.
	base context.Context

	mu         sync.Mutex
	done       bool
	classifier *Classifier
	err        error
}

// NewHandle returns a handle whose loads run until base is cancelled,
// independent of the caller that triggers them.
func NewHandle(base context.Context, name string, load LoadFunc) *Handle {
	return &Handle{name: name, load: load, base: base}
}

// Get blocks concurrent callers while the first one loads.
func (h *Handle) Get(ctx context.Context) (*Classifier, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.done {
		h.done = true
		// A cancelled first request must not poison the handle for everyone
		// else, so only base can stop the load.
		loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		stop := context.AfterFunc(h.base, cancel)
		c, err := h.load(loadCtx)
		stop()
		cancel()
		switch {
		case err != nil:
			h.err = fmt.Errorf("%w: %s: %w", ErrModelUnavailable, h.name, err)
		case c == nil:
			h.err = fmt.Errorf("%w: %s: loader returned no model", ErrModelUnavailable, h.name)
		default:
			h.classifier = c
		}
	}
	return h.classifier, h.err
}

// Loaded reports whether a classifier is in memory.
func (h *Handle) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.classifier != nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.done = true
	if h.err == nil {
		h.err = fmt.Errorf("%w: %s: closed", ErrModelUnavailable, h.name)
	}
	c := h.classifier
	h.classifier = nil
	if c == nil {
		return nil
	}
	return c.Close()
}
