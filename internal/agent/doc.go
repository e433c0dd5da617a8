// Package agent selects and administers the human agents that conversations
// are routed to.
//
// # Matcher
//
// SelectAgent is a pure function over a candidate list. It filters out
// identities that are not agents, are unavailable, belong to another tenant
// or are at capacity, then scores the rest:
//
//	score = 0.6 * skill + 0.4 * workload
//	skill    = matched required skills / required skills (1.0 when none required)
//	workload = 1 - currentWorkload / maxWorkload
//
// The highest score wins; ties go to the first candidate in input order.
//
// # Pool
//
// Pool wraps the store with the administrative operations agents and admins
// use to change routing attributes: availability, skills and capacity.
package agent
