// Package core provides the foundational message types shared by the agent
// engine, the model adapters and the tool subsystem:
//
//   - Content / Part (role tagged, ordered message segments)
//   - History (append-only message log owned by one agent run)
//   - ModelLimiter (per-run model call budget)
//   - NewID (uuid based identifiers for runs and tool calls)
//
// The package intentionally has no dependency on the engine or on vendor
// SDKs so every other package can import it without cycles.
package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for runs, streams and tool calls.
func NewID() string { return uuid.NewString() }
