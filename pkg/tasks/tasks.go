// Package tasks defines the structure for tasks that are sent to the scheduler queue.
package tasks

// ConversionTask represents the data structure for a document conversion job.
// The payload carries only the job ID; workers load the authoritative job
// record from the store before executing.
type ConversionTask struct {
	JobID string `json:"job_id"`
}
