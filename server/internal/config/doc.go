// Package config loads and watches the server configuration file (config.yaml).
//
// Config fields:
//   - Server.GRPCPort       port for the gRPC check receiver (default 50051)
//   - Server.HTTPPort       port for the REST API and WebSocket hub (default 8080)
//   - Server.Auth           mode (apikey|none), key_env, header (default "x-api-key")
//   - Server.Board.TTL      how long a worker's latest result stays on the live board (default 24h)
//   - Server.Session.TTL    how long an unfinished session is kept (default 30m)
//   - Server.Storage        backend (sqlite), path, retention
//   - Server.Alerts         supervisor alert rules and webhook targets
//   - Checklist.Questions   the active checklist catalog
//
// Load(path) applies defaults before unmarshalling, then validates. Checklist
// validation is the authoring-time check: option counts, option weights and
// question weight totals. The scoring engine never repeats it.
//
// Watch(ctx, path, onChange) re-loads the file on write and hands the new
// Config to onChange; an invalid file is logged and the previous config stays.
package config
