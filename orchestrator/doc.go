// Package orchestrator drives ingestion runs.
//
// A run scans the discovery root for eligible files, enqueues the new ones
// and processes a bounded number of pending units, smallest first. Each unit
// is checkpointed as processing before work starts and as completed or failed
// afterwards, so a run killed at any point resumes cleanly.
//
// The package also verifies completed paths against the vector store and can
// forget a path, deleting its chunks so it is ingested again.
package orchestrator
