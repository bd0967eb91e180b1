package scool

import (
	"crypto"
	_ "crypto/sha256"

	"github.com/grailbio/base/digest"
)

// Digester computes content digests of serialized tasks and states, for
// callers that need a hash stable across process restarts -- unlike a
// hand-rolled hash over a struct's fields, which silently drifts if a
// field is added without updating the hash. This mirrors reflow's own
// var Digester = digest.Digester(crypto.SHA256) in flow/flow.go.
var Digester = digest.Digester(crypto.SHA256)

// HashBytes returns a uint64 derived from the low 8 bytes of b's SHA-256
// digest, for use in Task.Hash implementations and the sharded task
// table's hash(task) mod B assignment, where a hash computed from a
// task's own MarshalTo output is stable regardless of field order or
// which process produced it.
func HashBytes(b []byte) uint64 {
	raw := Digester.FromBytes(b).Bytes()
	var h uint64
	for i := 0; i < 8 && i < len(raw); i++ {
		h = h<<8 | uint64(raw[i])
	}
	return h
}
