// Package bus implements the per-execution message channel between
// participating agents: direct delivery, broadcast, and correlated
// request/response with timeout.
//
// Delivery is at-most-once to currently subscribed agents over bounded
// channels; agents that subscribe after a message was sent do not receive it
// retroactively and slow subscribers lose messages rather than blocking
// senders. Every published message lands in the execution's append-only log
// regardless of delivery, which backs getLogs style queries.
package bus
