// Package runs executes registered pipeline runs.
//
// Lifecycle:
//   - created -> running -> succeeded | failed
//
// Execute drives the whole run: it loads the pipeline spec and the
// dataset bound to the run's mode, makes the dataset archive available
// locally, builds the in-process pipeline and either materializes
// inspection batches or measures throughput. Results are persisted on
// the run record; inspection summaries are additionally uploaded to the
// artifacts bucket.
//
// Auditing:
//   - Each executed run emits one run-level audit event and lineage
//     events linking the run to its pipeline, dataset and artifact.
package runs
