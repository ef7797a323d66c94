// Package api implements the NodeKeeper control API.
//
// Routes live under /api/v1:
//
//	GET    /health                 liveness, no auth
//	GET    /metrics                Prometheus exposition, no auth
//	GET    /node/status            supervisor status report
//	POST   /node/spawn             spawn and wait for readiness (operator)
//	POST   /node/kill              stop the node (operator)
//	GET    /node/options           current options
//	PATCH  /node/options           merge options (operator)
//	POST   /node/options/reset     restore defaults (operator)
//	GET    /node/logs?n=100        recent node output
//	DELETE /node/storage           reset storage, ?preserve_keys=true (operator)
//	GET    /node/events            audit trail, ?action=&limit=&offset=
//	POST   /auth/ws-ticket         single-use WebSocket ticket
//	GET    /ws?ticket=             live node events
//
// When security.jwt.secret is set, every route except /health, /metrics and
// /ws needs an "Authorization: Bearer <token>" header; routes marked
// operator also need the operator role. With no secret the API is open,
// which suits a desktop shell talking to a loopback listener.
//
// Spawn errors map to 409 (already running), 400 (not configured), 504
// (readiness timeout) and 500 (anything else).
package api
