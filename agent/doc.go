// Package agent contains the step-loop execution engine. An Agent owns a
// single run: it validates the prompt, moves IDLE -> RUNNING, drives a
// Stepper up to MaxSteps times and ends in FINISHED or ERROR, invoking
// cleanup exactly once on every exit path.
//
// Two execution modes are offered:
//
//  1. Run blocks the caller and returns the newline joined step records
//  2. RunStream returns a Stream immediately and emits one event per step
//     from a worker goroutine, bounded by a wall-clock timeout
//
// Streaming runs suppress steps that return the NoActionResult marker and
// stop once the marker keeps repeating (see Options.NoActionLimit).
//
// Steppers are pluggable. ReAct adapts a think/act Reasoner and
// ToolCallAgent implements one on top of a model.Model and a tool.Registry.
package agent
