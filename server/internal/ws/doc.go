// Package ws implements the WebSocket dashboard stream for safetycheck-server.
//
// Hub keeps a set of connected supervisor dashboards. It sends the full board
// on connect and on every tick, and pushes each completed check the moment it
// is recorded (Hub implements session.Sink).
//
// Messages:
//
//	{"event": "board",  "data": { /* same schema as GET /api/v1/board */ }}
//	{"event": "result", "data": { /* one SafetyCheckResult */ }}
//
// The upgrader accepts all origins; restrict them at the reverse proxy. The
// server mounts the hub at /ws/stream.
package ws
