package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewJobID builds a queue job id of the form <kind>_<utc timestamp>_<random>.
func NewJobID(kind string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s_%s_%s", kind, now.UTC().Format("20060102_150405"), random)
}

// NewTraceID generates the per-request trace id.
func NewTraceID() string {
	return uuid.NewString()
}
