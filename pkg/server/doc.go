// Package server provides the costgate admin HTTP server.
//
// # Endpoints
//
//	GET  /healthz                          component health (200 ok, 503 degraded)
//	GET  /v1/ledger                        the whole ledger document
//	GET  /v1/ledger/{lane}/{provider}      one bucket; ?user=<id> for a user bucket
//	POST /v1/hardstop                      set or clear a bucket's hard stop
//	GET  /metrics                          Prometheus exposition (path configurable)
//
// The hard-stop body is:
//
//	{"lane": "stable", "provider": "openai", "user_id": "", "stopped": true}
//
// When server.admin_token is configured, POST /v1/hardstop requires
// "Authorization: Bearer <token>".
//
// Every response carries an X-Request-ID header, echoing the client's value
// when one is sent.
package server
