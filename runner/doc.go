// Package runner serves agent tasks. Every task gets a fresh agent from a
// Factory, since an agent instance drives exactly one run.
//
// The Runner bounds concurrency, tracks active streaming runs by id so they
// can be cancelled, and closes whatever is still running on Shutdown.
package runner
