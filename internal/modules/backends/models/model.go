package models

// Backend is a single upstream server a route can proxy to.
type Backend struct {
	ID         uint64
	URL        string
	HealthPath string
	Weight     int
}

// BackendStatus is a health transition for one backend.
type BackendStatus struct {
	ID      uint64
	Healthy bool
}
