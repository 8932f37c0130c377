// Package v1alpha1 exposes the job orchestration API over HTTP. Handlers
// decode and validate the request, call the service and translate its typed
// errors into status codes; they hold no business logic of their own.
package v1alpha1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "github.com/strin/fortify/api/v1alpha1"
	"github.com/strin/fortify/internal/service"
)

// swappable clock for the progress estimates in tests
var timeNow = time.Now

type ServiceHandler struct {
	jobSrv *service.JobService
}

func NewServiceHandler(jobSrv *service.JobService) *ServiceHandler {
	return &ServiceHandler{jobSrv: jobSrv}
}

func (h *ServiceHandler) RegisterRoutes(router chi.Router) {
	router.Post("/scans", h.CreateScanJob)
	router.Post("/fixes", h.CreateFixJob)
	router.Get("/jobs", h.ListJobs)
	router.Get("/jobs/{id}", h.GetJob)
	router.Delete("/jobs/{id}", h.CancelJob)
	// kept for older frontends that cancel with a POST
	router.Post("/jobs/{id}/cancel", h.CancelJob)
	router.Get("/jobs/{id}/findings", h.GetJobFindings)
	router.Put("/jobs/{id}/status", h.UpdateJobStatus)
}

func replyError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, api.Error{Message: message})
}

func replyJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	render.Status(r, status)
	render.JSON(w, r, body)
}
