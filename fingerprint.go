package nimi

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is a stable 256-bit digest over a service's executable, its
// argument list, and its sorted config-data keys. It is used only to detect
// change across reloads (spec.md §3); collisions are tolerated as "no
// change".
type Fingerprint [sha256.Size]byte

// String returns the lower-case hex encoding of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// computeFingerprint hashes the argv (each element terminated by a NUL byte,
// to avoid the ambiguity a naive concatenation would introduce between
// e.g. ["ab", "c"] and ["a", "bc"]) followed by the service's sorted
// config-data keys.
//
// A strict implementation would additionally hash config-data content; key
// names alone are hashed here, a known weakness carried over unchanged from
// spec.md §9 ("Fingerprint completeness").
func computeFingerprint(svc Service) Fingerprint {
	h := sha256.New()
	for _, arg := range svc.Process.Argv {
		h.Write([]byte(arg))
		h.Write([]byte{0})
	}
	for _, key := range svc.ConfigData.sortedKeys() {
		h.Write([]byte(key))
		h.Write([]byte{0})
	}
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}
