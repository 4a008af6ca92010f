// Package worker implements spec §2's Render Worker adapter (C10): only
// the control-plane contract side — consuming work and reporting lifecycle
// to the Job Manager and Worker Health Monitor. The actual prompt-to-video
// render pipeline (script generation, TTS, composition) is an external
// collaborator per spec §1's Non-goals; this package calls a Renderer
// interface at the point original_source/video-creator's worker loop would
// invoke its render pipeline.
//
// Scheduling model matches spec §4.4: a single-threaded cooperative loop
// consuming one message at a time with prefetch=1, suspension points only
// at message-pull and I/O boundaries, no shared mutable state across job
// handlers since at most concurrent_job_limit jobs are ever in flight.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Harshaan-Chugh/rabbitreels/internal/bus"
	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
	"github.com/Harshaan-Chugh/rabbitreels/internal/health"
	"github.com/Harshaan-Chugh/rabbitreels/internal/jobmanager"
)

// RenderResult is what a render attempt reports back.
type RenderResult struct {
	Success     bool
	ErrorMsg    string
	DownloadURL string
}

// Renderer performs the out-of-scope pipeline work (script generation, TTS,
// composition) for one job payload. Implementations live outside this
// module; production wiring talks to the script generator / video renderer
// collaborators spec §1 names.
type Renderer interface {
	Render(ctx context.Context, jobID string, payload map[string]interface{}) RenderResult
}

// Worker consumes from the video queue (dialog -> rendered, spec §4.8),
// reports ASSIGNED/PROCESSING/COMPLETE to the Job Manager, and feeds the
// Health Monitor per job.
type Worker struct {
	id       string
	bus      *bus.Bus
	jobs     *jobmanager.Manager
	monitor  *health.Monitor
	renderer Renderer
	log      zerolog.Logger

	heartbeatInterval time.Duration
	pollBlock         time.Duration
}

func New(id string, b *bus.Bus, jobs *jobmanager.Manager, monitor *health.Monitor, renderer Renderer, heartbeatInterval time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		id:                id,
		bus:               b,
		jobs:              jobs,
		monitor:           monitor,
		renderer:          renderer,
		log:               log.With().Str("subcomponent", "worker").Str("worker_id", id).Logger(),
		heartbeatInterval: heartbeatInterval,
		pollBlock:         5 * time.Second,
	}
}

// Run executes the cooperative single-message consume loop until ctx is
// canceled or the monitor enters shutdown and drains empty. Suspension
// points are only at the bus pull (Consume's blocking XReadGroup) and at
// the renderer's own I/O; nothing here is safe to call from more than one
// goroutine per Worker, matching spec §4.4's no-shared-mutable-state model.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.monitor.IsShuttingDown() {
			return
		}
		if !w.monitor.AcceptNewJobs(ctx) {
			time.Sleep(time.Second)
			continue
		}

		msg, err := w.bus.Consume(ctx, bus.QueueVideo, w.id, w.pollBlock)
		if err != nil {
			w.log.Error().Err(err).Msg("bus consume failed")
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		w.handle(ctx, msg)
	}
}

// handle processes one message end to end: assign, start, heartbeat during
// render, complete, ack. A duplicate delivery of a job_id already
// terminal is idempotent because jobmanager's guarded transitions simply
// return FORBIDDEN without mutating state, which this handler treats as
// "someone else already finished this" and acks without reprocessing.
func (w *Worker) handle(ctx context.Context, msg *bus.Message) {
	jobID, _ := msg.Body["job_id"].(string)
	if jobID == "" {
		w.log.Error().Str("message_id", msg.ID).Msg("message missing job_id; dead-lettering")
		if err := w.bus.DeadLetter(ctx, bus.QueueVideo, msg, "missing job_id"); err != nil {
			w.log.Error().Err(err).Msg("dead-letter failed")
		}
		return
	}
	logger := w.log.With().Str("job_id", jobID).Logger()

	if err := w.jobs.Assign(ctx, jobID, w.id); err != nil {
		if cperr.Is(err, cperr.KindForbidden) {
			logger.Info().Msg("job already assigned elsewhere; acking duplicate delivery")
			_ = w.bus.Ack(ctx, bus.QueueVideo, msg)
			return
		}
		logger.Error().Err(err).Msg("assign failed; leaving message unacked for redelivery")
		return
	}
	if err := w.jobs.Start(ctx, jobID, w.id); err != nil {
		logger.Error().Err(err).Msg("start transition failed")
		return
	}

	w.monitor.StartJob(ctx, jobID)
	stopHeartbeat := w.runJobHeartbeat(ctx, jobID)

	result := w.renderer.Render(ctx, jobID, msg.Body)

	stopHeartbeat()
	w.monitor.CompleteJob(ctx, jobID, result.Success)

	if err := w.jobs.Complete(ctx, jobID, w.id, result.Success, result.ErrorMsg, result.DownloadURL); err != nil {
		logger.Error().Err(err).Msg("complete transition failed")
		return
	}

	if result.Success {
		logger.Info().Msg("job completed")
	} else {
		logger.Warn().Str("error", result.ErrorMsg).Msg("job failed")
	}
	if err := w.bus.Ack(ctx, bus.QueueVideo, msg); err != nil {
		logger.Error().Err(err).Msg("ack failed")
	}
}

// runJobHeartbeat refreshes the job's heartbeat_at on a ticker for the
// duration of one render, so the Job Manager's recovery loop does not
// mistake a long-running render for a dead worker. Returns a stop func.
func (w *Worker) runJobHeartbeat(ctx context.Context, jobID string) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.jobs.Heartbeat(ctx, jobID, w.id); err != nil {
					w.log.Warn().Err(err).Str("job_id", jobID).Msg("job heartbeat failed")
				}
			}
		}
	}()
	return func() { close(stop) }
}
