package claim

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/middleware"
	"github.com/ecolocal/eco-api/internal/pkg/errorhandler"
	"github.com/ecolocal/eco-api/internal/pkg/geofence"
	"github.com/ecolocal/eco-api/internal/pkg/response"
	"github.com/ecolocal/eco-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ScanRequest carries the claimant's optional position.
type ScanRequest struct {
	Lat *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng *float64 `json:"lng" validate:"omitempty,longitude"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (string, *geofence.Point, bool) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		response.BadRequest(w, "code is required")
		return "", nil, false
	}

	var req ScanRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return "", nil, false
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return "", nil, false
	}
	return code, geofence.NewPoint(req.Lat, req.Lng), true
}

// Scan handles POST /claims/{code}
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	actorRef := middleware.GetActorRef(r.Context())
	code, point, ok := h.decode(w, r)
	if !ok {
		return
	}

	cc, err := h.svc.Process(r.Context(), actorRef, code, point)
	if err != nil {
		h.writeError(w, r, "claim.scan", err)
		return
	}

	response.OK(w, cc)
}

// Visit handles POST /claims/{code}/visit
func (h *Handler) Visit(w http.ResponseWriter, r *http.Request) {
	actorRef := middleware.GetActorRef(r.Context())
	code, point, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Visit(r.Context(), actorRef, code, point)
	if err != nil {
		h.writeError(w, r, "claim.visit", err)
		return
	}

	response.Created(w, result)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var cooldown *CooldownError
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "Code not found")
	case errors.Is(err, ErrGeofence):
		response.Forbidden(w, "You are too far from this location")
	case errors.Is(err, ErrDailyCap):
		response.Error(w, http.StatusTooManyRequests, "DAILY_CAP", "Daily visit limit reached for this business")
	case errors.As(err, &cooldown):
		response.ErrorWithDetails(w, http.StatusConflict, "COOLDOWN", "Visit already rewarded", map[string]string{
			"entry_id": cooldown.EntryID,
			"until":    cooldown.Until.Format(time.RFC3339),
		})
	default:
		ledger.WriteError(w, r, op, err)
	}
}

func (h *Handler) Routes(authMiddleware, limiter func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(limiter)
	r.Post("/{code}", h.Scan)
	r.Post("/{code}/visit", h.Visit)
	return r
}
