// Package alerts notifies supervisors when a completed check crosses a rule.
//
// Rules are evaluated against each SafetyCheckResult as it is recorded; a
// firing rule is delivered to Teams, Slack or generic HTTP webhooks. Alerts
// are keyed by rule and worker, so a worker's next passing check resolves the
// alert and cooldowns apply per worker.
package alerts
