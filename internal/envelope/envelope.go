// Package envelope implements a versioned JSON wrapper for serialized
// targets and backend run_parameters: {version, payload}, with version
// mismatches driving a registered migration chain and unknown future
// versions treated as fatal.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Envelope is the on-disk/on-wire shape: a version tag plus an
// arbitrary payload.
type Envelope struct {
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// Migration upgrades a payload at fromVersion to fromVersion+1.
type Migration func(payload json.RawMessage) (json.RawMessage, error)

// Chain is a registered sequence of migrations, indexed by the version they
// upgrade *from*.
type Chain struct {
	migrations map[int]Migration
	current    int
}

// NewChain returns a Chain whose latest known version is currentVersion.
func NewChain(currentVersion int) *Chain {
	return &Chain{migrations: make(map[int]Migration), current: currentVersion}
}

// Register adds a migration that upgrades version fromVersion to fromVersion+1.
func (c *Chain) Register(fromVersion int, m Migration) {
	c.migrations[fromVersion] = m
}

// Wrap serializes v at the chain's current version.
func (c *Chain) Wrap(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}
	return json.Marshal(Envelope{Version: c.current, Payload: payload})
}

// Unwrap parses data as an Envelope and upgrades its payload through the
// migration chain until it reaches the chain's current version, then
// unmarshals into out. An envelope from a future, unregistered version is a
// fatal error: unknown future versions cannot be safely interpreted.
func (c *Chain) Unwrap(data []byte, out any) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("envelope: unmarshal envelope: %w", err)
	}
	payload := env.Payload
	version := env.Version
	for version < c.current {
		m, ok := c.migrations[version]
		if !ok {
			return fmt.Errorf("envelope: no migration registered from version %d (current %d)", version, c.current)
		}
		upgraded, err := m(payload)
		if err != nil {
			return fmt.Errorf("envelope: migrate from version %d: %w", version, err)
		}
		payload = upgraded
		version++
	}
	if version > c.current {
		return fmt.Errorf("envelope: unsupported future version %d (current %d)", version, c.current)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("envelope: unmarshal payload at version %d: %w", version, err)
	}
	return nil
}
