package instance

import (
	"fmt"
	"os"

	"github.com/angelmondragon/fulfillment-engine/pkg/env"
)

// GetID returns the identifier this process writes into lease columns.
// FULFILLMENT_WORKER_ID wins, then the Heroku dyno name; otherwise hostname
// and pid keep replicas apart.
func GetID() string {
	if id := env.First("", "FULFILLMENT_WORKER_ID", "DYNO"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
