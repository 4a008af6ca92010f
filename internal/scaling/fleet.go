// Package scaling implements spec §4.7's Scaling Controller (C9) and its
// fleet driver abstraction, ported from
// original_source/scaling-controller/controller.py.
package scaling

import "context"

// WorkerSpec describes one worker instance the fleet driver should create,
// matching spec §4.7's "each receives a distinct worker_id/health_port and
// environment."
type WorkerSpec struct {
	WorkerID   string
	HealthPort string
	Env        map[string]string
}

// FleetDriver abstracts over the deployment backend that actually runs
// worker instances, so the scaling decision logic (Controller) never talks
// to a container runtime directly. Spec §4.7: "Fleet driver (abstract over
// deployment backend)."
type FleetDriver interface {
	// CurrentWorkerIDs returns the worker_ids of every live instance the
	// driver currently manages.
	CurrentWorkerIDs(ctx context.Context) ([]string, error)

	// ScaleUp brings up len(specs) new worker instances.
	ScaleUp(ctx context.Context, specs []WorkerSpec) error

	// Terminate sends a graceful-then-forced termination sequence to the
	// named worker instances: SIGTERM, wait up to a driver-defined timeout
	// (containerKillTimeout for DockerFleet), force-kill if still alive.
	// Spec §4.7 scale-down step 3-4.
	Terminate(ctx context.Context, workerIDs []string) error
}
