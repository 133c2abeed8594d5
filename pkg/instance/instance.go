package instance

import (
	"fmt"
	"os"
)

// GetID returns the worker instance identifier. WORKER_ID wins; otherwise
// hostname and pid identify the process that claimed a job.
func GetID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
