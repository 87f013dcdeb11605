// Package store provides SQLite-backed durable storage for Longtable
// world snapshots (spec §6 persistence).
//
// Every committed tick serializes to a self-describing binary frame:
// {version, tick, seed, entities, relationships, component-data,
// meta-entities}. Bytecode and compiled plans are never part of it -
// restoring a frame requires the original compiled program to supply the
// component registry everything else is decoded against.
//
// # Durability pattern
//
// Save writes a snapshot row and advances head in one transaction, so a
// reader never observes one without the other. ON CONFLICT(tick) DO
// NOTHING makes re-saving an already-committed tick idempotent, the same
// crash-safety discipline the teacher's event log used for invocations
// and completions.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Frames are encoded with github.com/fxamacker/cbor/v2; component data
// that isn't representable on the wire (closures) is rejected at Save
// time rather than silently dropped.
package store
