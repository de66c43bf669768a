// Package service wires the long-running pieces of the pipeline (HTTP API,
// background processors) behind uniform Start/Stop wrappers used by the
// daemon entry point.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/vocdoni/district-pipeline/api"
	"github.com/vocdoni/district-pipeline/identity"
	"github.com/vocdoni/district-pipeline/storage"
	"github.com/vocdoni/district-pipeline/storage/districts"
	"github.com/vocdoni/district-pipeline/vault"
)

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	storage   *storage.Storage
	districts *districts.DistrictDB
	validator *identity.Validator
	sealer    *vault.Sealer
	api       *api.API
	mu        sync.Mutex
	cancel    context.CancelFunc
	host      string
	port      int
}

// NewAPI creates a new APIService instance.
func NewAPI(stg *storage.Storage, ddb *districts.DistrictDB, validator *identity.Validator,
	sealer *vault.Sealer, host string, port int,
) *APIService {
	return &APIService{
		storage:   stg,
		districts: ddb,
		validator: validator,
		sealer:    sealer,
		host:      host,
		port:      port,
	}
}

// Start begins the API server. It returns an error if the service
// is already running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}

	_, as.cancel = context.WithCancel(ctx)

	var err error
	as.api, err = api.New(&api.APIConfig{
		Host:      as.host,
		Port:      as.port,
		Storage:   as.storage,
		Districts: as.districts,
		Validator: as.validator,
		Sealer:    as.sealer,
	})
	if err != nil {
		as.cancel = nil
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop halts the API server.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		as.cancel()
		as.cancel = nil
	}
	as.storage.Close()
}

// HostPort returns the host and port of the API server.
func (as *APIService) HostPort() (string, int) {
	return as.host, as.port
}
