/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/shopfloor/internal/apperr"
	"github.com/friendsincode/shopfloor/internal/audit"
	"github.com/friendsincode/shopfloor/internal/auth"
	"github.com/friendsincode/shopfloor/internal/events"
	"github.com/friendsincode/shopfloor/internal/executor"
	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/scheduler"
	"github.com/friendsincode/shopfloor/internal/version"
	"github.com/friendsincode/shopfloor/internal/workcenter"
	"github.com/friendsincode/shopfloor/internal/workflow"
)

// maxBodyBytes limits JSON request bodies.
const maxBodyBytes = 1 << 20

// API exposes HTTP handlers.
type API struct {
	db          *gorm.DB
	jwtSecret   []byte
	scheduler   *scheduler.Service
	executor    *executor.Executor
	workflow    *workflow.Service
	workCenters *workcenter.Service
	auditSvc    *audit.Service
	bus         *events.Bus
	validate    *validator.Validate
	logger      zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, scheduler *scheduler.Service, exec *executor.Executor, workflowSvc *workflow.Service, workCenters *workcenter.Service, auditSvc *audit.Service, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		db:          db,
		jwtSecret:   jwtSecret,
		scheduler:   scheduler,
		executor:    exec,
		workflow:    workflowSvc,
		workCenters: workCenters,
		auditSvc:    auditSvc,
		bus:         bus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the versioned API under /api/v1.
func (a *API) Routes(r chi.Router) {
	planners := a.requireRoles(models.RoleAdmin, models.RolePlanner)
	floor := a.requireRoles(models.RoleAdmin, models.RolePlanner, models.RoleOperator)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/time-slots", func(r chi.Router) {
				r.Get("/", a.handleSlotsList)
				r.With(planners).Post("/", a.handleSlotsCreate)
				r.With(planners).Post("/batch", a.handleSlotsBatch)
				r.Route("/{slotID}", func(r chi.Router) {
					r.Get("/", a.handleSlotsGet)
					r.With(planners).Patch("/", a.handleSlotsUpdate)
					r.With(planners).Delete("/", a.handleSlotsDelete)

					r.With(floor).Post("/start", a.handleSlotStart)
					r.With(floor).Post("/pause", a.handleSlotPause)
					r.With(floor).Post("/stop", a.handleSlotStop)
					r.With(floor).Post("/qc", a.handleSlotQC)
					r.With(floor).Post("/missing-parts", a.handleSlotMissingParts)
				})
			})

			pr.Route("/orders", func(r chi.Router) {
				r.Get("/", a.handleOrdersList)
				r.With(planners).Post("/", a.handleOrdersCreate)
				r.Route("/{orderID}", func(r chi.Router) {
					r.Get("/", a.handleOrdersGet)
					r.With(planners).Post("/assets", a.handleOrderAttachAsset)
					r.With(planners).Put("/size-table", a.handleOrderSizeTable)
					r.With(planners).Post("/submit", a.handleOrderSubmit)
					r.With(floor).Post("/release", a.handleOrderRelease)
					r.With(floor).Post("/deliver", a.handleOrderDeliver)
					r.With(a.requireRoles(models.RoleAdmin, models.RoleAccounting)).Post("/settle", a.handleOrderSettle)
				})
			})

			pr.Route("/work-centers", func(r chi.Router) {
				r.Get("/", a.handleWorkCentersList)
				r.With(a.requireRoles(models.RoleAdmin)).Post("/", a.handleWorkCentersCreate)
				r.Route("/{workCenterID}", func(r chi.Router) {
					r.Get("/", a.handleWorkCentersGet)
					r.With(a.requireRoles(models.RoleAdmin)).Patch("/", a.handleWorkCentersUpdate)
					r.With(a.requireRoles(models.RoleAdmin)).Delete("/", a.handleWorkCentersDelete)
				})
			})

			pr.With(a.requireRoles(models.RoleAdmin)).Get("/audit", a.handleAuditList)

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok", "time": time.Now().UTC(), "version": version.Version}

	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	}
	writeJSON(w, status, body)
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.jwtSecret)
}

func (a *API) requireRoles(allowed ...models.RoleName) func(http.Handler) http.Handler {
	return auth.RequireRoles(allowed...)
}

// decode reads a JSON body into dst and runs struct validation on it. It
// writes the 400 response itself and reports whether the handler may go on.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_json", Message: err.Error()})
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]any, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, errorBody{
				Error:   "invalid_request",
				Message: "request failed validation",
				Details: fields,
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}

// statusFor maps a domain error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrInvalidRange):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err from a service call. Unclassified errors are
// logged and hidden behind a generic code.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	appErr, ok := apperr.As(err)
	if status == http.StatusInternalServerError || !ok {
		a.logger.Error().Err(err).Str("op", op).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, op+"_failed")
		return
	}

	body := errorBody{Error: appErr.Code, Message: appErr.Message, Details: map[string]any{}}
	for k, v := range appErr.Details {
		body.Details[k] = v
	}
	var batchErr *scheduler.BatchError
	if errors.As(err, &batchErr) {
		body.Details["index"] = batchErr.Index
		body.Details["op"] = string(batchErr.Op)
		if batchErr.SlotID != "" {
			body.Details["slot_id"] = batchErr.SlotID
		}
	}
	if len(body.Details) == 0 {
		body.Details = nil
	}
	writeJSON(w, status, body)
}
