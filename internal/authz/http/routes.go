package authzhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const invalidateRateLimit = 60
const invalidateRateWindow = time.Minute

// MountRoutes registers the /v1 decision API.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(invalidateRateLimit, invalidateRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/authorize", h.handleAuthorize)
		r.Post("/authorize/batch", h.handleBatch)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/invalidate/user", h.handleInvalidateUser)
			gr.Post("/invalidate/tenant", h.handleInvalidateTenant)
		})
	})
}
