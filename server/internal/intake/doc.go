// Package intake decodes and validates inbound check payloads.
//
// Both the REST API and the gRPC receiver funnel requests through Decode so
// a payload is accepted or rejected the same way regardless of transport.
package intake
