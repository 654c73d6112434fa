package backends

import (
	"sync/atomic"

	"relay/internal/modules/backends/models"
)

var idCounter atomic.Uint64

// NewBackend allocates a backend with a process-unique ID.
// Weight below 1 is normalized to 1 so weighted strategies stay well-defined.
func NewBackend(url, healthPath string, weight int) *models.Backend {
	if weight < 1 {
		weight = 1
	}
	return &models.Backend{
		ID:         idCounter.Add(1),
		URL:        url,
		HealthPath: healthPath,
		Weight:     weight,
	}
}
