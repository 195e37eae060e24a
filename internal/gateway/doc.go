// Package gateway orchestrates the supportdesk server components.
//
// # Overview
//
// The gateway owns every long-lived component: the SQLite store, the presence
// registry, broadcaster and reconciler, the relay router, the websocket server,
// the HTTP and gRPC servers, and optionally a tsnet node and a Redis
// presence backplane.
//
// # HTTP Surface
//
// Routes are served by a chi router (api.go):
//
//   - GET /ws/agent - Agent websocket (JWT via ?token= or Authorization: Bearer)
//   - GET /ws/user - User websocket (optional ?username= auto-identify)
//   - POST /api/auth/agent/register - Create an agent account
//   - POST /api/auth/agent/login - Exchange credentials for a token
//   - GET /api/auth/agent/status - Presence of every agent
//   - GET /api/auth/agent/me - The authenticated agent
//   - GET /api/messages/history?user=&agent= - Conversation, oldest first
//   - POST /api/messages/mark-read - Flag messages as read
//   - GET /health, GET /health/ready - Liveness and readiness
//   - GET /metrics - Prometheus metrics when enabled
//
// # gRPC
//
// The gRPC listener only carries the standard grpc.health.v1 service so
// orchestrators can probe the relay; it reports SERVING once the listeners
// are up and NOT_SERVING during shutdown.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled or a server fails
//
// Run shuts the gateway down itself. Shutdown closes websockets first so
// every disconnect is reconciled before the store closes.
package gateway
