package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ecolocal/eco-api/internal/middleware"
	"github.com/ecolocal/eco-api/internal/pkg/errorhandler"
	"github.com/ecolocal/eco-api/internal/pkg/response"
	"github.com/ecolocal/eco-api/internal/pkg/validator"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// Handler serves balance and activity reads plus the admin entry API.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// AppendEntryRequest is the admin append body.
type AppendEntryRequest struct {
	ID              string     `json:"id" validate:"required,max=128"`
	Amount          int64      `json:"amount" validate:"gte=0"`
	Kind            string     `json:"kind" validate:"required,eco_kind"`
	Status          string     `json:"status" validate:"omitempty,eco_status"`
	Relation        string     `json:"relation" validate:"omitempty,eco_relation"`
	ActorRef        string     `json:"actor_ref" validate:"required,max=128"`
	CounterpartyRef string     `json:"counterparty_ref" validate:"max=128"`
	LocationRef     string     `json:"location_ref" validate:"max=128"`
	Method          string     `json:"method" validate:"max=32"`
	Source          string     `json:"source" validate:"max=32"`
	OfferID         string     `json:"offer_id" validate:"max=128"`
	OccurredAt      *time.Time `json:"occurred_at"`
	OccurredAtMs    *int64     `json:"occurred_at_ms"`
}

func (req AppendEntryRequest) toEntry() *Entry {
	source := req.Source
	if source == "" {
		source = SourceAdmin
	}
	return &Entry{
		ID:              req.ID,
		Amount:          req.Amount,
		Kind:            Kind(req.Kind),
		Status:          Status(req.Status),
		Relation:        Relation(req.Relation),
		ActorRef:        req.ActorRef,
		CounterpartyRef: Ref(req.CounterpartyRef),
		LocationRef:     Ref(req.LocationRef),
		Method:          Ref(req.Method),
		Source:          Ref(source),
		OfferID:         Ref(req.OfferID),
		OccurredAt:      req.OccurredAt,
		OccurredAtMs:    req.OccurredAtMs,
	}
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=settled failed"`
}

// Balance handles GET /ledger/{actor_ref}/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	actorRef, ok := h.authorizeActor(w, r)
	if !ok {
		return
	}

	balance, err := h.svc.Balance(r.Context(), actorRef)
	if err != nil {
		WriteError(w, r, "ledger.balance", err)
		return
	}

	response.OK(w, map[string]interface{}{
		"actor_ref": actorRef,
		"balance":   balance,
	})
}

// Activity handles GET /ledger/{actor_ref}/activity
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	actorRef, ok := h.authorizeActor(w, r)
	if !ok {
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}

	activity, err := h.svc.Activity(r.Context(), actorRef, limit)
	if err != nil {
		WriteError(w, r, "ledger.activity", err)
		return
	}

	response.OK(w, activity)
}

// AppendEntry handles POST /admin/ledger/entries
func (h *Handler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	var req AppendEntryRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	result, err := h.svc.Append(r.Context(), req.toEntry())
	if err != nil {
		WriteError(w, r, "ledger.append", err)
		return
	}

	if result.Created {
		response.Created(w, result)
		return
	}
	response.OK(w, result)
}

// SetStatus handles POST /admin/ledger/entries/{id}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req setStatusRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	entry, err := h.svc.SetStatus(r.Context(), id, Status(req.Status))
	if err != nil {
		WriteError(w, r, "ledger.set_status", err)
		return
	}

	response.OK(w, entry)
}

// GetEntry handles GET /admin/ledger/entries/{id}
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, "ledger.get", err)
		return
	}
	response.OK(w, entry)
}

// Reconcile handles POST /admin/ledger/actors/{actor_ref}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	actorRef := chi.URLParam(r, "actor_ref")

	balance, err := h.svc.Balances().Reconcile(r.Context(), actorRef)
	if err != nil {
		WriteError(w, r, "ledger.reconcile", err)
		return
	}

	response.OK(w, map[string]interface{}{
		"actor_ref": actorRef,
		"balance":   balance,
	})
}

// BusinessActivity handles GET /ledger/business/{business_ref}/activity
func (h *Handler) BusinessActivity(w http.ResponseWriter, r *http.Request) {
	businessRef := chi.URLParam(r, "business_ref")
	if businessRef == "me" {
		businessRef = middleware.GetBusinessRef(r.Context())
	}
	if businessRef == "" {
		response.NotFound(w, "No business for caller")
		return
	}
	if businessRef != middleware.GetBusinessRef(r.Context()) && !middleware.IsAdmin(r.Context()) {
		response.Forbidden(w, "Cannot read another business's ledger")
		return
	}

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxActivityLimit)
	}
	var before *time.Time
	if raw := r.URL.Query().Get("before_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.BadRequest(w, "before_ms must be epoch milliseconds")
			return
		}
		t := time.UnixMilli(ms).UTC()
		before = &t
	}

	activity, err := h.svc.BusinessActivity(r.Context(), businessRef, limit, before)
	if err != nil {
		WriteError(w, r, "ledger.business_activity", err)
		return
	}
	response.OK(w, activity)
}

// authorizeActor allows the actor themselves or an admin.
func (h *Handler) authorizeActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := middleware.GetActorRef(r.Context())
	if caller == "" {
		response.Unauthorized(w, "unauthorized")
		return "", false
	}

	actorRef := chi.URLParam(r, "actor_ref")
	if actorRef == "me" {
		actorRef = caller
	}
	if actorRef != caller && !middleware.IsAdmin(r.Context()) {
		response.Forbidden(w, "Cannot read another participant's ledger")
		return "", false
	}
	return actorRef, true
}

// WriteError maps ledger and store errors onto HTTP responses. Other
// domains fall back to it for the shared store taxonomy.
func WriteError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidEntry):
		response.ValidationError(w, map[string]string{"entry": err.Error()})
	case errors.Is(err, ErrConflict):
		response.Conflict(w, "IDEMPOTENCY_CONFLICT", "Entry id already used with a different payload")
	case errors.Is(err, ErrEntryNotFound):
		response.NotFound(w, "Ledger entry not found")
	case errors.Is(err, ErrInvalidTransition):
		response.Conflict(w, "INVALID_TRANSITION", "Entry status can no longer change")
	case errors.Is(err, ErrSpendNotAllowed):
		response.Conflict(w, "SPEND_REQUIRES_REDEMPTION", "Spends are written only by offer redemption")
	case errors.Is(err, ErrTimeout):
		errorhandler.LogStoreError(r.Context(), op, err)
		response.GatewayTimeout(w, "Ledger store timed out")
	case errors.Is(err, ErrStoreUnavailable):
		errorhandler.LogStoreError(r.Context(), op, err)
		response.Unavailable(w, "STORE_UNAVAILABLE", "Ledger store unavailable", time.Second)
	default:
		errorhandler.Internal(r.Context(), w, op, err)
	}
}

// Routes mounts participant reads under /ledger.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/{actor_ref}/balance", h.Balance)
	r.Get("/{actor_ref}/activity", h.Activity)
	r.Get("/business/{business_ref}/activity", h.BusinessActivity)
	return r
}

// AdminRoutes mounts the admin entry API under /admin/ledger.
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())
	r.Post("/entries", h.AppendEntry)
	r.Get("/entries/{id}", h.GetEntry)
	r.Post("/entries/{id}/status", h.SetStatus)
	r.Post("/actors/{actor_ref}/reconcile", h.Reconcile)
	return r
}
