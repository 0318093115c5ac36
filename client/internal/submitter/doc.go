// Package submitter sends completed checks to safetycheck-server over gRPC.
//
// Submit calls safetycheck.v1.CheckService/SubmitCheck and retries transient
// failures (Unavailable, DeadlineExceeded, ResourceExhausted, ...) with
// truncated exponential backoff (1s to 30s, ±25% jitter) up to the configured
// attempt budget. Errors that mean the check itself will never be accepted
// (InvalidArgument, FailedPrecondition, Unauthenticated, PermissionDenied,
// NotFound) are returned immediately.
//
// Auth: API key via gRPC metadata, mTLS via credentials.NewTLS, or plaintext
// for local development. The dial function is injectable for tests.
package submitter
