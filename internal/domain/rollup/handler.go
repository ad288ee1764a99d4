package rollup

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/pkg/response"
)

type Handler struct {
	agg *Aggregator
}

func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

// Overview handles GET /stats/{scope}?window=30d
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	scope, err := ParseScope(chi.URLParam(r, "scope"))
	if err != nil {
		response.BadRequest(w, "scope must be platform or business:<ref>")
		return
	}
	window, err := ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		response.BadRequest(w, "window must be a duration like 24h or 30d")
		return
	}

	out, err := h.agg.Overview(r.Context(), scope, window)
	if err != nil {
		if errors.Is(err, ErrScopeNotFound) {
			response.NotFound(w, "Business not found")
			return
		}
		ledger.WriteError(w, r, "rollup.overview", err)
		return
	}
	response.OK(w, out)
}

// Routes mounts the public stats endpoints under /stats.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{scope}", h.Overview)
	return r
}
