// Package store persists and retrieves the encoded group state a caller
// gets back from (*mls.Group).Marshal. Neither implementation here is
// imported by package mls itself — a group façade has no opinion on where
// its state lives; a caller wires one of these in explicitly.
package store

import "context"

// GroupStore saves, loads and deletes the opaque encoded state blob for a
// group, keyed by its group ID. encoded is always exactly what
// (*mls.Group).Marshal produced; a GroupStore never inspects it.
type GroupStore interface {
	SaveState(ctx context.Context, groupID []byte, encoded []byte) error
	LoadState(ctx context.Context, groupID []byte) ([]byte, error)
	DeleteState(ctx context.Context, groupID []byte) error
}
