// Package gateway orchestrates the triage-gateway server components.
//
// # Overview
//
// The gateway package owns the store, the triage engine, the lifecycle
// manager, the auto-close sweeper, the dedupe cache and the transports, and
// exposes them over one HTTP server.
//
// # Inbound Pipeline
//
// Every provider message takes the same path:
//
//  1. The transport normalizes it into a transport.InboundMessage
//  2. The provider message id is checked against the dedupe cache
//  3. triage.Engine.HandleInbound records it and runs the state machine
//  4. Bot replies are delivered through the transport.Mux after commit
//
// WhatsApp messages arrive on the Evolution webhook; Matrix messages arrive
// through the sync loop started by Run.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - Store readiness check
//   - POST /webhook/whatsapp - Evolution API webhook
//   - GET /api/conversations - Queue listing (?status=open,closed&sector_id=&agent_id=&limit=)
//   - GET /api/conversations/{id} - Conversation with messages and transfers
//   - POST /api/conversations/{id}/assume - Staff member takes ownership
//   - POST /api/conversations/{id}/assign - Assign an agent
//   - POST /api/conversations/{id}/transfer - Move to another sector and agent
//   - POST /api/conversations/{id}/close - Close
//   - POST /api/conversations/{id}/archive - Archive
//   - POST /api/conversations/{id}/messages - Agent reply
//   - GET, POST /api/sectors and PATCH /api/sectors/{id}
//   - GET, POST /api/users
//   - POST /api/autoclose - Run one inactivity sweep
//   - GET /api/events - Server-sent queue events (?sector_id=)
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run shuts the HTTP server down gracefully and closes the store on return.
package gateway
