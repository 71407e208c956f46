// Package memory holds per-conversation chat memory for the chat app.
//
// Memory is process-local and bounded: each conversation keeps at most
// MaxMessages entries and readers ask for the last N. Nothing survives a
// restart.
package memory
