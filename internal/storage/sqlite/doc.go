// Package sqlite contains the SQLite repositories for imported events and
// reduction output.
//
// EventStore is the chunk source read by the cluster and scatter drivers.
// ClusterStore and ScatterStore are their row sinks, scoped to one run
// recorded by RunStore. Schemas live in internal/db/migrations.
package sqlite
