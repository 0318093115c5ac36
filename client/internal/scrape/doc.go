// Package scrape reads safetycheck-server's /metrics endpoint and folds the
// exposition into a Stats summary for safetyctl.
//
// Parsing uses expfmt.TextParser. A partial parse with trailing garbage is
// still accepted as long as at least one family was decoded.
package scrape
