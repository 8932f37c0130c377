// Package workerclient talks to the external scan/fix worker over HTTP.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strin/fortify/internal/config"
	"github.com/strin/fortify/internal/store/model"
	"github.com/strin/fortify/pkg/metrics"
)

// Client dispatches work to the worker and signals cancellation. The
// orchestrator never depends on the worker for correctness: start failures
// surface to the caller, but cancel failures are reported and swallowed
// because the job record is already cancelled by the time we get here.
type Client interface {
	StartJob(ctx context.Context, job *model.Job) error
	CancelJob(ctx context.Context, jobID uuid.UUID) error
}

type workerClient struct {
	baseURL       string
	client        *http.Client
	cancelTimeout time.Duration
	log           *zap.SugaredLogger
}

func New(cfg *config.Config) Client {
	return &workerClient{
		baseURL:       cfg.Worker.BaseUrl,
		client:        &http.Client{Timeout: cfg.Worker.StartTimeout},
		cancelTimeout: cfg.Worker.CancelTimeout,
		log:           zap.S().Named("workerclient"),
	}
}

type startJobRequest struct {
	JobID           string `json:"jobId"`
	Type            string `json:"type"`
	RepoURL         string `json:"repoUrl"`
	Branch          string `json:"branch,omitempty"`
	Path            string `json:"path,omitempty"`
	TargetFindingID string `json:"targetFindingId,omitempty"`
}

func (w *workerClient) StartJob(ctx context.Context, job *model.Job) error {
	body := startJobRequest{
		JobID:   job.ID.String(),
		Type:    string(job.Type),
		RepoURL: job.RepoURL,
		Branch:  job.Branch,
		Path:    job.Path,
	}
	if job.TargetFindingID != nil {
		body.TargetFindingID = job.TargetFindingID.String()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding start request: %w", err)
	}

	url := fmt.Sprintf("%s/jobs", w.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatching job %s to worker: %w", job.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("worker rejected job %s: status %d", job.ID, resp.StatusCode)
	}
	w.log.Infow("job dispatched to worker", "job_id", job.ID, "type", job.Type)
	return nil
}

// CancelJob sends the cancel signal bounded by the configured timeout. The
// caller has already committed the CANCELLED status, so an unreachable or
// erroring worker only produces a metric and a warning.
func (w *workerClient) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, w.cancelTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/jobs/%s/cancel", w.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("building cancel request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		metrics.IncreaseWorkerCancelSignalMetric(metrics.SignalOutcomeUnreachable)
		return fmt.Errorf("signaling worker to cancel job %s: %w", jobID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.IncreaseWorkerCancelSignalMetric(metrics.SignalOutcomeUnreachable)
		return fmt.Errorf("worker refused cancel for job %s: status %d", jobID, resp.StatusCode)
	}
	metrics.IncreaseWorkerCancelSignalMetric(metrics.SignalOutcomeDelivered)
	return nil
}
