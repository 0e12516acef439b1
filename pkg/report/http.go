package report

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apphttp "github.com/chainsafe/stake-ledger/pkg/app/http"
)

// RegisterRoutes registers the analytics endpoints on the given chi router
func RegisterRoutes(r chi.Router, p *Projector) {
	r.Get("/users/{id}/analytics", apphttp.HandleError(func(w http.ResponseWriter, r *http.Request) error {
		res, err := p.UserAnalytics(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			return err
		}
		apphttp.WriteJSON(w, http.StatusOK, res)
		return nil
	}))

	r.Get("/analytics/platform", apphttp.HandleError(func(w http.ResponseWriter, r *http.Request) error {
		res, err := p.PlatformAnalytics(r.Context())
		if err != nil {
			return err
		}
		apphttp.WriteJSON(w, http.StatusOK, res)
		return nil
	}))
}
