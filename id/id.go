// Package id defines TypeID-based identity types used by the scheduler's
// coordination layer: one identifier per process (NodeID) and one per
// dispatched remote command (CommandID), both K-sortable and URL-safe.
//
// Task ids themselves are plain strings of the form "group-index" (see
// package task) — they are chosen by the caller, not generated here.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

const (
	// PrefixNode identifies a scheduler process instance.
	PrefixNode Prefix = "node"
	// PrefixCommand identifies a remote command dispatched through the
	// coordination mirror's ordered command queue.
	PrefixCommand Prefix = "cmd"
)

// ID wraps a TypeID, providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string into an ID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates its prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// NodeID is a type-safe identifier for a scheduler process (prefix "node").
type NodeID = ID

// CommandID is a type-safe identifier for a dispatched remote command
// (prefix "cmd"); its K-sortable suffix doubles as the FIFO ordering key
// for the coordination mirror's order watcher.
type CommandID = ID

// NewNodeID generates a new unique node identity.
func NewNodeID() ID { return New(PrefixNode) }

// NewCommandID generates a new unique, time-ordered command id.
func NewCommandID() ID { return New(PrefixCommand) }

// ParseNodeID parses a string and validates the "node" prefix.
func ParseNodeID(s string) (ID, error) { return ParseWithPrefix(s, PrefixNode) }

// ParseCommandID parses a string and validates the "cmd" prefix.
func ParseCommandID(s string) (ID, error) { return ParseWithPrefix(s, PrefixCommand) }

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}
