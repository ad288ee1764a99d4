package redemption

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/middleware"
	"github.com/ecolocal/eco-api/internal/pkg/response"
	"github.com/ecolocal/eco-api/internal/pkg/validator"
)

type Handler struct {
	svc        *Service
	retryAfter time.Duration
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, retryAfter: time.Second}
}

// RedeemRequest is the optional redeem body.
type RedeemRequest struct {
	LocationRef string `json:"location_ref" validate:"max=128"`
}

// Redeem handles POST /offers/{offer_id}/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	actorRef := middleware.GetActorRef(r.Context())
	if actorRef == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req RedeemRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	result, err := h.svc.Redeem(r.Context(), Request{
		ActorRef:       actorRef,
		OfferID:        chi.URLParam(r, "offer_id"),
		IdempotencyKey: middleware.GetIdempotencyKey(r.Context()),
		LocationRef:    req.LocationRef,
	})
	if err != nil {
		h.writeError(w, r, "redemption.redeem", err)
		return
	}

	if result.Replayed {
		response.OK(w, result)
		return
	}
	response.Created(w, result)
}

// VerifyVoucher handles POST /vouchers/{code}/verify
func (h *Handler) VerifyVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.VerifyVoucher(r.Context(), voucherScope(r), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, "voucher.verify", err)
		return
	}
	response.OK(w, v)
}

// ConsumeVoucher handles POST /vouchers/{code}/consume
func (h *Handler) ConsumeVoucher(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.ConsumeVoucher(r.Context(), voucherScope(r), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, "voucher.consume", err)
		return
	}
	response.OK(w, v)
}

// voucherScope limits business callers to their own vouchers. Admins see all.
func voucherScope(r *http.Request) string {
	if middleware.IsAdmin(r.Context()) {
		return ""
	}
	ref := middleware.GetBusinessRef(r.Context())
	if ref == "" {
		// a business token without a business matches nothing
		return "\x00"
	}
	return ref
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		response.ValidationError(w, map[string]string{"request": err.Error()})
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "Not found")
	case errors.Is(err, ErrConflict):
		response.Conflict(w, "IDEMPOTENCY_CONFLICT", "Idempotency key already used for a different offer")
	case errors.Is(err, ErrInsufficientBalance):
		response.Conflict(w, "INSUFFICIENT_BALANCE", "Not enough ECO for this offer")
	case errors.Is(err, ErrOfferUnavailable):
		response.Conflict(w, "OFFER_UNAVAILABLE", "Offer is not available")
	case errors.Is(err, ErrContention):
		response.Unavailable(w, "CONTENTION", "Too many concurrent redemptions, retry shortly", h.retryAfter)
	case errors.Is(err, ErrVoucherExpired):
		response.Error(w, http.StatusGone, "VOUCHER_EXPIRED", "Voucher expired")
	case errors.Is(err, ErrVoucherVoid):
		response.Conflict(w, "VOUCHER_VOID", "Voucher is void")
	default:
		ledger.WriteError(w, r, op, err)
	}
}

// VoucherRoutes mounts voucher checks for business staff under /vouchers.
func (h *Handler) VoucherRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireBusiness())
	r.Post("/{code}/verify", h.VerifyVoucher)
	r.Post("/{code}/consume", h.ConsumeVoucher)
	return r
}
