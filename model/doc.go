// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with language / reasoning models.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel, ScriptedModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so agents remain decoupled from vendor SDKs. Cross-cutting
// wrappers (rate limiting, tracing) live in the middleware sub-package.
package model
