// Package testutil contains helpers used across tests to reduce boilerplate
// when constructing messages and driving agents with scripted steppers
// (fixed outcomes, blocking steps, cleanup counters). They are not intended
// for production usage.
package testutil
