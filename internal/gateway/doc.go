// Package gateway is the real-time entry point of livechat-gateway.
//
// # Overview
//
// The Gateway struct wires the store, credential resolver, conversation
// workflow and agent pool together and serves them over one HTTP server.
// The Router accepts WebSocket connections, binds them in the presence
// registry and routes conversation traffic between rooms.
//
// # Endpoints
//
//   - GET {ws_path} - WebSocket upgrade (credential required)
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//   - GET {metrics.path} - Prometheus metrics, when enabled
//
// # Handshake
//
// The credential is read from the auth_token cookie, the visitor_token
// cookie, an Authorization bearer header or the token query parameter, in
// that order. A missing or unresolvable credential gets 401 and the
// connection is never upgraded.
//
// # Frames
//
// Clients send JSON frames:
//
//	{"event": "send_message", "id": "42", "data": {"conversationId": "c1", "content": "hi"}}
//
// and receive acks and pushes:
//
//	{"event": "ack", "id": "42", "data": {"success": true, "message": {...}}}
//	{"event": "conversation:c1:message", "data": {...}}
//	{"event": "new_conversation", "data": {"conversationId": "c1"}}
//
// Inbound events: join_conversation, leave_conversation, send_message, ping.
//
// # Rooms
//
//   - user:{identityId} - every connection of one identity
//   - agents - every staff connection
//   - conversation:{conversationId} - connections that joined the conversation
//
// Notifications for identities with no live connection are dropped.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // shuts down when ctx is canceled
package gateway
