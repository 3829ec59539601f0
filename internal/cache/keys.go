package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func PayloadKey(jobID uuid.UUID) string {
	return fmt.Sprintf("ingest:payload:%s", jobID)
}

func JobStateKey(jobID uuid.UUID) string {
	return fmt.Sprintf("ingest:job:%s", jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
