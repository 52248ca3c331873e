// Package analysis provides the business boundary for analysis tasks on
// top-level objects. It defines the Service (ingest, task mutation under
// source-label access control), the Dispatcher (best-effort triage over the
// analyzer Registry), the Context builder handed to analyzers, the Store
// interface, and the metrics the package reports.
package analysis
