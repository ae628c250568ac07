// Package util provides logging, traffic counters and small helpers shared
// by the relay and the channel stack.
package util

import "hash/fnv"

// ShortID hashes an identifier (channel id, relay URL) to 4 bytes for log
// prefixes. It is not a secret and need not be reversible.
func ShortID(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
