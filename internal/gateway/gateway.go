// Package gateway implements spec §4.2's Submission Gateway (C5): the
// public HTTP surface for submitting render jobs and querying their
// status, routed with github.com/go-chi/chi/v5 (the teacher routes its
// gRPC-facing REST shim with bare net/http.ServeMux; chi is adopted here
// because the gateway needs path parameters — {job_id} — and because it
// is the router the rest of the retrieved pack standardizes on for
// JSON APIs).
package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Harshaan-Chugh/rabbitreels/internal/auth"
	"github.com/Harshaan-Chugh/rabbitreels/internal/bus"
	"github.com/Harshaan-Chugh/rabbitreels/internal/jobmanager"
	"github.com/Harshaan-Chugh/rabbitreels/internal/store"
	"github.com/Harshaan-Chugh/rabbitreels/internal/themes"
)

const defaultMaxRetries = 3

// Publisher is the narrow slice of *bus.Bus the gateway needs, named here
// so tests can stub it without a live Redis stream.
type Publisher interface {
	PublishWithRetry(ctx context.Context, queue string, body map[string]interface{}) error
}

var _ Publisher = (*bus.Bus)(nil)

// Gateway wires together everything spec §6's HTTP API table needs:
// job lifecycle (via the Job Manager), credit spend (via the Ledger, one
// layer below the Job Manager so refunds/spends stay centralized there),
// bus publication, and the theme allow-list.
type Gateway struct {
	jobs           *jobmanager.Manager
	ledger         *store.Ledger
	users          *store.Store
	bus            Publisher
	themes         *themes.Registry
	billing        *BillingHandler
	welcomeCredits int
	log            zerolog.Logger
}

func New(jobs *jobmanager.Manager, ledger *store.Ledger, users *store.Store, pub Publisher, themeRegistry *themes.Registry, billing *BillingHandler, welcomeCredits int, log zerolog.Logger) *Gateway {
	return &Gateway{
		jobs: jobs, ledger: ledger, users: users, bus: pub, themes: themeRegistry,
		billing: billing, welcomeCredits: welcomeCredits,
		log: log.With().Str("component", "gateway").Logger(),
	}
}

// ensureUserMiddleware provisions a just-seen JWT subject (spec §4.1's
// welcome grant) before any handler touching the Ledger or Job Manager
// runs, so a brand-new user's very first submission already has a credit
// to spend.
func (g *Gateway) ensureUserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			writeErrorJSON(w, http.StatusUnauthorized, "missing identity")
			return
		}
		if _, err := g.users.EnsureUser(r.Context(), claims.Subject, claims.Email, g.welcomeCredits); err != nil {
			writeControlPlaneError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Routes builds the chi router for spec §6's HTTP API table.
func (g *Gateway) Routes(verifier *auth.Verifier) http.Handler {
	r := chi.NewRouter()
	r.Use(tracingMiddleware, loggingMiddleware(g.log), corsMiddleware())

	r.Get("/video-count", g.handleVideoCount)
	r.Post("/billing/webhook", g.billing.HandleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier), g.ensureUserMiddleware)
		r.Post("/videos", g.handleSubmit)
		r.Get("/videos/{job_id}", g.handleGetVideo)
		r.Get("/videos/{job_id}/file", g.handleGetVideoFile)
		r.Get("/user/videos", g.handleListUserVideos)
		r.Get("/billing/balance", g.billing.HandleBalance)
		r.Post("/billing/checkout-session", g.billing.HandleCheckoutSession)
	})

	return r
}

type submitRequest struct {
	Prompt         string `json:"prompt" validate:"required,min=1,max=2000"`
	CharacterTheme string `json:"character_theme" validate:"required"`
	Title          string `json:"title"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// handleSubmit implements spec §4.2's submit operation exactly: validate
// theme, create the PENDING job record, spend one credit, publish to the
// scripts queue with retry, and on final publish failure refund + mark
// FAILED. The ordering (record before spend, spend before publish) matches
// spec §4.2's ordering rule so a successful 202 always implies debited ∧
// enqueued ∧ record exists.
func (g *Gateway) handleSubmit(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeErrorJSON(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req submitRequest
	if !decodeJSON(w, r, &req) || !validateStruct(w, req) {
		return
	}
	if !g.themes.Allowed(req.CharacterTheme) {
		writeErrorJSON(w, http.StatusBadRequest, "unknown character_theme")
		return
	}

	jobID := uuid.NewString()
	payload := map[string]interface{}{
		"job_id":          jobID,
		"prompt":          req.Prompt,
		"character_theme": req.CharacterTheme,
		"title":           req.Title,
	}

	ctx := r.Context()
	if err := g.jobs.Create(ctx, jobID, claims.Subject, payload, defaultMaxRetries); err != nil {
		writeControlPlaneError(w, err)
		return
	}

	if _, err := g.ledger.Spend(ctx, claims.Subject, "video submission "+jobID); err != nil {
		if delErr := g.jobs.DeleteNotStarted(ctx, jobID); delErr != nil {
			g.log.Error().Err(delErr).Str("job_id", jobID).Msg("failed to roll back job record after spend failure")
		}
		writeControlPlaneError(w, err)
		return
	}

	if err := g.bus.PublishWithRetry(ctx, bus.QueueScripts, payload); err != nil {
		if _, refundErr := g.ledger.Refund(ctx, claims.Subject, "enqueue failed for "+jobID); refundErr != nil {
			g.log.Error().Err(refundErr).Str("job_id", jobID).Msg("refund after enqueue failure did not complete")
		}
		if compErr := g.jobs.FailEnqueue(ctx, jobID, claims.Subject); compErr != nil {
			g.log.Error().Err(compErr).Str("job_id", jobID).Msg("failed to mark job FAILED after enqueue failure")
		}
		writeErrorJSON(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID, Status: "queued"})
}

type videoStatusResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	ErrorMsg    string `json:"error_msg,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

func (g *Gateway) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	j, err := g.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeControlPlaneError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(j))
}

// handleGetVideoFile implements spec §6's GET /videos/{job_id}/file: 404
// if not done/missing, else the MP4. Serving the artifact bytes themselves
// is outside this control plane's scope (object storage is an external
// collaborator); this handler redirects to the stored download_url once
// the job is COMPLETED.
func (g *Gateway) handleGetVideoFile(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	j, err := g.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeControlPlaneError(w, err)
		return
	}
	if j.Status != "COMPLETED" || !j.DownloadURL.Valid {
		writeErrorJSON(w, http.StatusNotFound, "video not ready")
		return
	}
	http.Redirect(w, r, j.DownloadURL.String, http.StatusFound)
}

func (g *Gateway) handleListUserVideos(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeErrorJSON(w, http.StatusUnauthorized, "missing identity")
		return
	}
	jobs, err := g.jobs.ListByUser(r.Context(), claims.Subject)
	if err != nil {
		writeControlPlaneError(w, err)
		return
	}
	out := make([]videoStatusResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toStatusResponse(&j))
	}
	writeJSON(w, http.StatusOK, out)
}

func toStatusResponse(j *store.ArchivedJob) videoStatusResponse {
	resp := videoStatusResponse{JobID: j.JobID, Status: j.Status}
	if j.ErrorMessage.Valid {
		resp.ErrorMsg = j.ErrorMessage.String
	}
	if j.DownloadURL.Valid {
		resp.DownloadURL = j.DownloadURL.String
	}
	return resp
}

type videoCountResponse struct {
	Count int64 `json:"count"`
}

// handleVideoCount is unauthenticated (spec §6 table has no auth column
// entry for it) and backed by the durable counter, not the KV mirror,
// since this endpoint has no latency budget that would justify trading
// correctness for cache speed.
func (g *Gateway) handleVideoCount(w http.ResponseWriter, r *http.Request) {
	count, err := g.jobs.VideoCount(r.Context())
	if err != nil {
		writeControlPlaneError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, videoCountResponse{Count: count})
}
