// Package cluster groups an event's energy-deposit samples into contiguous
// clusters and summarises each cluster.
//
// Responsibilities: distance metrics (3D Euclidean and single axis), the
// sequential single-linkage chain clusterer, and per-cluster aggregation.
// Key types: Metric, Cluster, Summary.
//
// Dependency rule: cluster may depend on event, never on reduce or storage.
package cluster
