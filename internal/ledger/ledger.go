// Package ledger implements the tamper-evident audit ledger: an append-only,
// SHA-256 hash-chained record of administrative and security-relevant actions.
//
// Every entry carries a gapless sequence number and the hash of its
// predecessor. The first entry chains from GenesisHash (64 hex zeros). Altering
// any stored entry invalidates its own hash, which VerifyIntegrity reports.
//
// The package is organised around a small storage contract (Store) with two
// implementations:
//   - MemoryStore: in-process, for tests and single-process tooling.
//   - PostgresStore: durable, for production use.
//
// New entries enter only through Service.Append. Reads go through Verifier
// and Query. None of these types expose an update or delete operation.
package ledger
