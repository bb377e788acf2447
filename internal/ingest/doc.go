// Package ingest runs ingestion cycles: it fans out to every source adapter,
// resolves each record's identity by normalized URL, and merges the batch into
// the entity store one record at a time.
//
// A record whose URL is already known updates that entity and appends a metric
// observation. An unknown URL is analyzed once and created; analysis failures
// drop the record for the cycle so the next run retries it. Runs are serialized
// per Orchestrator.
package ingest
