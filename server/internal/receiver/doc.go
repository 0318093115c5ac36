// Package receiver serves the gRPC check service used by kiosk and handset
// clients to submit a complete check in one call.
//
// The service is safetycheck.v1.CheckService with a single unary method,
// SubmitCheck. Requests and responses are google.protobuf.Struct messages
// whose fields mirror the REST JSON bodies, so any gRPC client can call it
// without generated stubs. Authentication is enforced upstream by the gRPC
// server interceptor (see package auth).
package receiver
