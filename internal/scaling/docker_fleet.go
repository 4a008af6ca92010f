package scaling

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
)

const (
	workerIDLabel   = "rabbitreels.worker_id"
	componentLabel  = "rabbitreels.component"
	componentWorker = "render-worker"

	containerKillTimeout = 60 * time.Second
)

// DockerFleet is the docker-compose-style fleet driver, a direct Go port
// of controller.py's _scale_compose_workers / _mark_worker_for_shutdown /
// _wait_for_job_completion: it drives the local Docker engine rather than
// a Swarm or Kubernetes API, grounded on fairyhunter13-ai-cv-evaluator's
// use of github.com/docker/docker's client package (there, to control test
// infrastructure; here, to control the render-worker fleet itself).
type DockerFleet struct {
	cli     *client.Client
	image   string
	network string
	log     zerolog.Logger
}

// NewDockerFleet connects to the local Docker engine using the standard
// DOCKER_HOST-aware client (client.FromEnv), matching controller.py's
// connect_docker "from_env" path — the simplest of its four fallback
// connection methods and the only one that doesn't require a platform-
// specific transport (npipe on Windows, unix socket path probing).
func NewDockerFleet(image, network string, log zerolog.Logger) (*DockerFleet, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerFleet{cli: cli, image: image, network: network, log: log.With().Str("subcomponent", "fleet-docker").Logger()}, nil
}

func (f *DockerFleet) workerFilter() filters.Args {
	args := filters.NewArgs()
	args.Add("label", componentLabel+"="+componentWorker)
	return args
}

func (f *DockerFleet) CurrentWorkerIDs(ctx context.Context) ([]string, error) {
	containers, err := f.cli.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: f.workerFilter()})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		if id, ok := c.Labels[workerIDLabel]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ScaleUp creates one container per spec, named after its worker_id, whose
// environment is spec.Env plus WORKER_ID and HEALTH_CHECK_PORT (from
// spec.HealthPort), with an on-failure restart policy capped at 3 attempts.
// No environment variables are copied from existing worker containers.
func (f *DockerFleet) ScaleUp(ctx context.Context, specs []WorkerSpec) error {
	for _, spec := range specs {
		env := make([]string, 0, len(spec.Env)+2)
		for k, v := range spec.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		env = append(env, "WORKER_ID="+spec.WorkerID, "HEALTH_CHECK_PORT="+spec.HealthPort)

		resp, err := f.cli.ContainerCreate(ctx, &container.Config{
			Image: f.image,
			Env:   env,
			Labels: map[string]string{
				workerIDLabel:  spec.WorkerID,
				componentLabel: componentWorker,
			},
		}, &container.HostConfig{
			RestartPolicy: container.RestartPolicy{Name: "on-failure", MaximumRetryCount: 3},
			NetworkMode:   container.NetworkMode(f.network),
		}, nil, nil, "render-worker-"+spec.WorkerID)
		if err != nil {
			return fmt.Errorf("create worker %s: %w", spec.WorkerID, err)
		}
		if err := f.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
			return fmt.Errorf("start worker %s: %w", spec.WorkerID, err)
		}
		f.log.Info().Str("worker_id", spec.WorkerID).Str("container_id", resp.ID).Msg("worker container started")
	}
	return nil
}

// Terminate sends SIGTERM, waits up to containerKillTimeout, then force-
// kills and removes — controller.py: container.kill(signal="SIGTERM"),
// container.wait(timeout=60), container.remove(); falls back to
// force-kill+force-remove on exception.
func (f *DockerFleet) Terminate(ctx context.Context, workerIDs []string) error {
	containers, err := f.cli.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: f.workerFilter()})
	if err != nil {
		return err
	}
	byWorkerID := make(map[string]string, len(containers))
	for _, c := range containers {
		if id, ok := c.Labels[workerIDLabel]; ok {
			byWorkerID[id] = c.ID
		}
	}

	for _, workerID := range workerIDs {
		containerID, ok := byWorkerID[workerID]
		if !ok {
			continue
		}
		f.terminateOne(ctx, workerID, containerID)
	}
	return nil
}

func (f *DockerFleet) terminateOne(ctx context.Context, workerID, containerID string) {
	waitCtx, cancel := context.WithTimeout(ctx, containerKillTimeout)
	defer cancel()

	if err := f.cli.ContainerKill(ctx, containerID, "SIGTERM"); err != nil {
		f.log.Warn().Err(err).Str("worker_id", workerID).Msg("SIGTERM failed, forcing removal")
		f.forceRemove(ctx, containerID)
		return
	}

	statusCh, errCh := f.cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case <-statusCh:
	case <-errCh:
		f.log.Warn().Str("worker_id", workerID).Msg("graceful wait errored, forcing removal")
		f.forceRemove(ctx, containerID)
		return
	case <-waitCtx.Done():
		f.log.Warn().Str("worker_id", workerID).Msg("graceful wait timed out, forcing removal")
		f.forceRemove(ctx, containerID)
		return
	}

	if err := f.cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{}); err != nil {
		f.log.Warn().Err(err).Str("worker_id", workerID).Msg("remove failed after graceful stop")
	}
}

func (f *DockerFleet) forceRemove(ctx context.Context, containerID string) {
	_ = f.cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true})
}
