// Package scool implements the core data structures and executor contract
// for SCoOL, a runtime for bulk-synchronous exploration of large
// combinatorial search spaces.
//
// A search space is expressed as a seed Task and an initial State. Tasks
// are processed in supersteps: every task live at the start of a superstep
// is given a chance to push child tasks (which become live in the next
// superstep) and to fold its contribution into a shared State, which is a
// commutative monoid. Three executors run the same superstep loop over
// different substrates: package seqexec runs it on a single goroutine,
// package shmexec runs it across a shared-memory worker pool, and package
// distexec runs it across a set of peers that communicate over a tagged
// message fabric (package fabric), cooperatively stealing work from one
// another within a superstep.
//
// The system orchestrates superstep execution in the manner of a
// barrier-synchronized graph traversal; see the seqexec, shmexec and
// distexec packages for the three executor implementations.
package scool
