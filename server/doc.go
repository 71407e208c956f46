// Package server exposes the agent runner and the chat app over HTTP.
//
// Routes:
//
//	GET /ai/agent/chat?message=        agent run as server-sent events
//	GET /ai/agent/chat/sync?message=   agent run, plain text result
//	GET /ai/chat/sync?message=&chatId= chat reply, plain text
//	GET /ai/chat/sse?message=&chatId=  chat reply as server-sent events
//	GET /healthz
//
// Every /ai route is rate limited per client. Streams end with a
// "data: [DONE]" frame; failures are sent as "event: error" frames.
package server
