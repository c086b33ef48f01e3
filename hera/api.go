package hera

import (
	"context"

	"github.com/merklefruit/op-rs/hera/driver"
)

// heraAPI serves the "hera" RPC namespace with read-only pipeline state.
type heraAPI struct {
	service *HeraService
}

func (a *heraAPI) SyncStatus(_ context.Context) (*driver.SyncStatus, error) {
	return a.service.driver.SyncStatus(), nil
}

func (a *heraAPI) ValidationMode(_ context.Context) (string, error) {
	return a.service.validationMode.String(), nil
}

func (a *heraAPI) Version(_ context.Context) (string, error) {
	return a.service.Version, nil
}
