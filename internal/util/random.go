// Package util provides utility functions for the IngestPipe application.
package util

import "github.com/google/uuid"

// GenerateID generates a collision-resistant identifier with the given prefix.
// The returned ID is in the format "{prefix}{uuid}".
func GenerateID(prefix string) string {
	return prefix + uuid.NewString()
}

// GenerateMessageID generates a unique message record ID with "msg_" prefix.
func GenerateMessageID() string {
	return GenerateID("msg_")
}

// GenerateJobID generates a unique job ID with "job_" prefix.
func GenerateJobID() string {
	return GenerateID("job_")
}
