package app

import "github.com/R3E-Network/service_layer/internal/app/storage/memory"

// NewMemoryBackendForTest constructs an in-memory Backend. Intended for unit
// tests; production deployments should use the Postgres backend.
func NewMemoryBackendForTest() Backend {
	return memory.New()
}
