// Package tallinnatom aggregates per-series sensor readings into live
// device snapshots and serves them to dashboards.
//
// # Architecture
//
// Two binaries share the module. The listener ingests device messages;
// the hub serves the aggregated state:
//
//	┌──────────┐   sensors.*.status   ┌──────────────────┐
//	│ Devices  │─────────────────────→│ atomhub-listener │
//	│ (NATS)   │   sensors.*.init     │  (ingest)        │
//	└──────────┘                      └────────┬─────────┘
//	                                           │ writes
//	                                           ↓
//	                                  ┌─────────────────┐
//	                                  │    InfluxDB     │
//	                                  │ (device_status) │
//	                                  └────────┬────────┘
//	                                           │ last() per series
//	                                           ↓
//	┌──────────┐    REST / SSE / WS   ┌─────────────────┐
//	│Dashboards│←─────────────────────│     atomhub     │
//	└──────────┘                      │ (merge + cache) │
//	                                  └─────────────────┘
//
// InfluxDB stores each field of a device as an independent series, so a
// device's "current state" does not exist as a single row. The hub glues
// the per-series last values back together: the snapshot package merges
// raw records into one view per device, resolving the valve state by the
// newest timestamp across all of the device's series.
//
// # Packages
//
// Aggregation core:
//   - store: InfluxDB access, Flux query construction, status writes
//   - snapshot: record merging, valve vocabulary, staleness
//   - snapcache: TTL cache with single-flight refresh and stale-on-error
//   - history: timeline reconstruction and bulk export
//
// Delivery:
//   - stream: SSE and WebSocket broadcast loops
//   - gateway: HTTP routing, request IDs, error mapping
//   - viewstore: per-device dashboard fragments
//
// Ingest:
//   - natsclient: managed NATS connection
//   - ingest: status and init message handlers
//
// Infrastructure:
//   - config: file plus environment configuration
//   - errors: classified error handling
//   - metric: Prometheus metrics
//   - health: component health aggregation
package tallinnatom
