package offer

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/raulk/clock"

	"github.com/ecolocal/eco-api/internal/pkg/errorhandler"
	"github.com/ecolocal/eco-api/internal/pkg/response"
	"github.com/ecolocal/eco-api/internal/pkg/validator"
)

// Catalog is the read side the handler needs.
type Catalog interface {
	GetBusiness(ctx context.Context, ref string) (*Business, error)
	ListAvailable(ctx context.Context, businessRef string, now time.Time) ([]Offer, error)
}

type Handler struct {
	catalog Catalog
	clock   clock.Clock
}

func NewHandler(catalog Catalog, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{catalog: catalog, clock: clk}
}

// SuggestPrice handles GET /offers/suggest-price
func (h *Handler) SuggestPrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := PriceInput{
		Type:   Type(q.Get("type")),
		Pledge: PledgeTier(q.Get("pledge")),
	}

	details := make(map[string]string)
	parse := func(name string) int64 {
		raw := q.Get(name)
		if raw == "" {
			return 0
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			details[name] = "Must be an integer"
		}
		return n
	}
	in.FiatCostCents = parse("fiat_cost_cents")
	in.AvgBasketCents = parse("avg_basket_cents")
	if q.Get("percent") != "" {
		p := parse("percent")
		in.Percent = &p
	}
	if len(details) > 0 {
		response.ValidationError(w, details)
		return
	}
	if errs := validator.Validate(in); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	response.OK(w, SuggestPrice(in))
}

// ListAvailable handles GET /businesses/{business_ref}/offers
func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "business_ref")

	biz, err := h.catalog.GetBusiness(r.Context(), ref)
	if err != nil {
		if errors.Is(err, ErrBusinessNotFound) {
			response.NotFound(w, "Business not found")
			return
		}
		errorhandler.Internal(r.Context(), w, "offer.list_business", err)
		return
	}
	if !biz.Active {
		response.NotFound(w, "Business not found")
		return
	}

	offers, err := h.catalog.ListAvailable(r.Context(), ref, h.clock.Now())
	if err != nil {
		errorhandler.Internal(r.Context(), w, "offer.list_available", err)
		return
	}

	response.OK(w, offers)
}
