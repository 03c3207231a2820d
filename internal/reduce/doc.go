// Package reduce turns raw event chunks into the flat per-cluster table.
//
// It is the composition root of the reduction pipeline: Reducer clusters
// and aggregates one event, ChunkProcessor reduces a chunk and flattens the
// survivors into rows with global event ids, and Driver walks a ChunkSource
// chunk by chunk carrying the running event-id offset between chunks.
//
// Per-event failures are values (Result.Skip), never errors. Structural
// failures are returned as *InvariantError and abort the run.
package reduce
