// Package session holds in-progress safety checks.
//
// A Manager keeps one explicit State per worker: checklist answers and the
// biometric sub-scores recorded so far. Complete turns a finished State into a
// write-once types.SafetyCheckResult, hands it to every Sink and drops the
// session. Submit does the same for a check that arrives in one piece.
//
// Raw blink streams are scored as soon as they are recorded and never kept.
// Sessions idle for longer than the TTL are evicted by Run.
package session
