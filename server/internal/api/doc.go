// Package api implements the HTTP REST API for safetycheck-server.
//
// New returns a Handler that serves:
//
//	GET    /healthz                              liveness probe
//	GET    /metrics                              Prometheus text exposition
//	GET    /api/v1/checklist                     active question catalog
//	POST   /api/v1/sessions                      start a step-by-step session
//	GET    /api/v1/sessions/{userId}             session in progress
//	PUT    /api/v1/sessions/{userId}/answers     record one answer
//	DELETE /api/v1/sessions/{userId}/answers     clear all answers
//	POST   /api/v1/sessions/{userId}/measurements record pupil/tremor/ppg
//	POST   /api/v1/sessions/{userId}/complete    score and store the session
//	POST   /api/v1/checks                        one-shot check
//	GET    /api/v1/board                         latest result per worker
//	GET    /api/v1/summary?date=                 SAFE/CAUTION/DANGER counts
//	GET    /api/v1/results?date=&level=&dept=    stored results
//	GET    /api/v1/users/{userId}/results        one worker's history
//	GET    /api/v1/alerts                        firing and recent alerts
//
// Every response is JSON except /metrics. Failures carry {"error": "..."}.
// Request bodies are decoded by package intake.
package api
