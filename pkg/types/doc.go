// Package types defines the canonical safety-check types shared by the server,
// its reporting views and the safetyctl client.
//
// The SafetyCheckResult JSON field names are the stored history schema and
// must not change. LevelFor is the single source of the 70/50 thresholds; the
// scoring engine and every reporting view classify through it.
package types
