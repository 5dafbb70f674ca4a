package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/juju/clock"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mycloud-net/storage-go/internal/access"
	"github.com/mycloud-net/storage-go/internal/config"
	"github.com/mycloud-net/storage-go/internal/files"
	"github.com/mycloud-net/storage-go/internal/logging"
)

// maxJSONBody bounds PATCH bodies.
const maxJSONBody = 64 << 10

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Files    *files.Service
	Verifier *access.Verifier
	Accounts access.AccountLookup
	Gatherer prometheus.Gatherer
	Clock    clock.Clock
	Logger   zerolog.Logger
}

// NewRouter creates the HTTP router with all v1 endpoints.
func NewRouter(d Deps, cfg config.HTTPConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.AccessLog(d.Logger))

	if d.Clock == nil {
		d.Clock = clock.WallClock
	}
	h := &handlers{
		files:     d.Files,
		clock:     d.Clock,
		maxUpload: cfg.MaxUploadBytes,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	authenticated := access.Middleware(d.Verifier, d.Accounts, true)

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Streaming endpoints run without the request timeout.
		r.Get("/download/{handle}", h.Download)
		r.With(authenticated).Post("/files", h.Upload)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout(cfg.RequestTimeout)))
			r.Use(gzipJSON)

			r.Get("/health", h.GetHealth)

			r.Group(func(r chi.Router) {
				r.Use(authenticated)

				r.Get("/files", h.ListFiles)
				r.Patch("/files/{handle}", h.UpdateFile)
				r.Delete("/files/{handle}", h.DeleteFile)

				r.Route("/admin/accounts", func(r chi.Router) {
					r.Get("/", h.ListAccounts)
					r.Get("/{accountID}/files", h.ListAccountFiles)
					r.Patch("/{accountID}", h.ToggleAdmin)
					r.Delete("/{accountID}", h.DeleteAccount)
				})
			})
		})
	})

	return r
}

func requestTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

func gzipJSON(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

type handlers struct {
	files     *files.Service
	clock     clock.Clock
	maxUpload int64
	validate  *validator.Validate
}
