package audithttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const exportRateLimit = 10
const exportRateWindow = time.Minute

// MountRoutes registers the denial timeline and CSV export under /v1/audit.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil || h.service == nil {
		return
	}
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(h.rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Route("/v1/audit", func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard)
		}
		r.Get("/denials", h.handleTimeline)
		r.With(limiter).Get("/denials.csv", h.handleExport)
	})
}

func (h *Handler) rateLimitKey(r *http.Request) (string, error) {
	if h.principal != nil {
		if principal := strings.TrimSpace(h.principal(r)); principal != "" {
			return "principal:" + principal, nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
