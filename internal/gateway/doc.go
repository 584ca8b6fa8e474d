// Package gateway orchestrates the huddle-gateway server components.
//
// # Overview
//
// The gateway package wires the messaging fabric together and serves it:
//
//	store (SQLite) -> secret codec -> presence registry -> room synchronizer
//	              -> fan-out router -> dispatch gateway -> conversation service
//
// New opens the store and provisions the default bot; Run serves HTTP (and
// optionally gRPC health) until the context is canceled.
//
// # HTTP API
//
// All /api routes and /ws require a bearer JWT whose subject is the caller's
// identity:
//
//   - POST /api/conversations, GET /api/conversations
//   - PUT /api/conversations/{id}/name
//   - POST /api/conversations/{id}/members
//   - DELETE /api/conversations/{id}/members/{identity}
//   - GET|POST /api/conversations/{id}/messages (POST honors Idempotency-Key)
//   - POST /api/bots, GET /api/bots, DELETE /api/bots/{id}
//   - GET|POST /api/bots/{id}/messages
//   - POST /api/contacts, GET /api/presence
//   - GET /health, GET /health/ready, GET /metrics (when enabled)
//
// Errors are JSON objects of the form {"error": "..."}.
//
// # Live Connections
//
// GET /ws upgrades to a WebSocket (the token may be passed as ?token= since
// browsers cannot set headers on the handshake). The server pushes frames:
//
//	{"type":"presenceChanged","online":["alice","bob"]}
//	{"type":"newMessage","message":{...}}
//
// # Listeners
//
// Plain TCP on server.http_addr and server.grpc_addr, or a tsnet node when
// tailscale.enabled is set (HTTP on :80, or :443 with https/funnel, and gRPC
// health on :50051).
package gateway
