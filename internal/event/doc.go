// Package event owns the raw per-event step data read from a chunk source.
//
// Responsibilities: the RawEvent container (one owned set of parallel
// per-step columns per event), per-step Sample views, column validation,
// and the enriched gamma pre-step lookup.
//
// Dependency rule: event depends on nothing else in this module. No SQL or
// clustering code belongs here.
package event
