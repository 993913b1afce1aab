package main

import (
	"fmt"

	"github.com/runspace/core/pkg/config"
	"github.com/runspace/core/pkg/runservice"
	"github.com/runspace/core/pkg/space"
	"github.com/runspace/core/pkg/store"
)

// openRuntime wires a Store, a space.Manager, and a runservice.Service
// together from the environment-derived config, mirroring the teacher's
// openStores helper in cmd/root/users.go. Callers must close the returned
// Store when done.
func openRuntime() (*store.Store, *space.Manager, *runservice.Service, error) {
	rt, err := config.FromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading runtime config: %w", err)
	}

	st, err := store.Open(rt.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}

	manager := space.New(space.Config{
		Store:            st,
		WorkspaceBaseDir: rt.WorkspaceBaseDir,
		BaseImage:        rt.SandboxBaseImage,
		WorkDir:          "/workspace",
		DefaultTimeoutMS: rt.SandboxTimeoutMS,
	})

	svc := runservice.New(st, manager)

	return st, manager, svc, nil
}
