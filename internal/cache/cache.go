// Package cache holds disposable projections of durable state (warning
// timestamps, per-community configs) as strings with a per-entry TTL.
//
// A Store is never authoritative. Every value is reconstructible from the
// durable store, and callers treat any error as "go to the database".
// Implementations use Redis (shared across replicas) or in-process memory.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a string key/value cache with per-entry expiry.
type Store interface {
	// Get returns the value of key, or ErrMiss.
	Get(ctx context.Context, key string) (string, error)
	// Set stores val under key for ttl.
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	// Purge removes keys. Missing keys are not an error.
	Purge(ctx context.Context, keys ...string) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend connections.
	Close() error
}

// Noop never stores anything; every Get misses. It is the "cache disabled"
// backend and keeps call sites free of nil checks.
type Noop struct{}

var _ Store = Noop{}

func (Noop) Get(context.Context, string) (string, error)              { return "", ErrMiss }
func (Noop) Set(context.Context, string, string, time.Duration) error { return nil }
func (Noop) Purge(context.Context, ...string) error                   { return nil }
func (Noop) Ping(context.Context) error                               { return nil }
func (Noop) Close() error                                             { return nil }
