// Package kvcache implements a backend-agnostic key-value cache contract.
// Application code talks to Cache (raw bytes) or Typed[V] (values through a
// Codec) and never learns which backend serves it.
//
// Components:
//   - Cache: byte store with TTLs (provider/local, provider/redis,
//     provider/ristretto, provider/bigcache).
//   - Codec[V]: (de)serializes V <-> []byte (package codec).
//   - engine: builds a Cache from configuration; the only code that
//     inspects the backend kind.
//   - registry: typed container for wiring engines into an application.
//   - Logger/Hooks: adapters in log/*, sinks in sloghooks and hooks/*.
//
// TTLs:
//
//	NoExpiration       - entry never expires on its own
//	DefaultExpiration  - use the store's configured default TTL
//	0                  - already expired (the key reads as absent)
//	> 0                - expires ttl after the write
//
// Errors: a miss is (nil, false, nil). Unreadable bytes return *DecodeError,
// backend outages return *UnavailableError; both are distinct from a miss so
// callers decide whether to degrade.
package kvcache
