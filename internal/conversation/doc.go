// Package conversation implements the conversation lifecycle workflow.
//
// # Overview
//
// A conversation is opened by a visitor, routed to at most one agent and
// eventually resolved:
//
//	PENDING --assign--> ACTIVE --resolve--> CLOSED
//	PENDING ---------------------resolve--> CLOSED
//
// CLOSED is terminal. Assignment, reassignment and resolution each run in
// one store transaction together with the agent workload update, so a
// conversation is never ACTIVE without its agent's workload reflecting it.
//
// # Service
//
//	svc := conversation.NewService(store, conversation.Options{Notifier: gw})
//
// Key operations:
//
//   - Create(ctx, req): persist a PENDING conversation and try to assign it
//   - Reassign(ctx, id): re-run matching with the original required skills
//   - Resolve(ctx, id): close the conversation and release the agent's slot
//   - Get(ctx, id): conversation with its messages
//   - ListForAgent(ctx, agentID, statuses...): an agent's inbox
//
// A conversation that finds no agent at creation stays PENDING until an
// explicit Reassign. There is no background re-matching.
//
// # Notifications
//
// After a successful commit the service notifies the affected identities
// through the Notifier and hands a lifecycle event to the optional
// EventPublisher. Neither can fail the operation.
package conversation
