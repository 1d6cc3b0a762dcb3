// Package reminder schedules recurring messages into conversations, such
// as a standup prompt every weekday morning.
package reminder

import "context"

// Job is one periodic task.
type Job interface {
	// Name returns a unique identifier for the job, used for logging and
	// duplicate detection.
	Name() string

	// Schedule returns a five-field cron expression (e.g. "0 9 * * 1-5").
	Schedule() string

	// Run executes the job. Implementations should honor ctx cancellation.
	Run(ctx context.Context) error
}
