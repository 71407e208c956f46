// Package chat implements the conversational surface: a system prompt, a
// per-conversation memory window and a chain of advisors around a single
// model call. Unlike the agent package there is no loop; every message is
// answered by exactly one model call.
package chat
