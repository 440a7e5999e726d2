// Package core provides a deterministic, in-memory implementation of
// the raft consensus algorithm with the pre-vote extension.
//
// It exposes a `Node` interface driving one cluster member. The caller
// owns time: it must call `Node.Tick` with monotonic milliseconds at a
// stable cadence, deliver inbound messages through `Node.Step`, and
// forward every message either call returns to the addressed peer.
// Transport, durable storage, clock and randomness are capability
// ports injected at construction, so tests can drive whole clusters
// deterministically.
//
// Basic usage for `Node` is `Propose`: pass opaque command bytes on
// the leader, and the command appears in `CommittedSince` on every
// node once a majority has acknowledged it. After that it is safe to
// apply to the state machine without fear of loss.
//
// Durability ordering is strict: metadata is persisted before any
// message reflecting a new term or vote is emitted, and log entries
// are persisted before they are acknowledged or counted toward
// commit. A failing storage port stops the node permanently.
package core
