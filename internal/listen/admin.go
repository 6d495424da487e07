package listen

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/searchd/internal/dashboard"
	"github.com/dreamware/searchd/internal/registry"
)

// AdminServer is the http-tagged admin surface:
// /status, /dashboard and /metrics, with optional bearer-token auth.
type AdminServer struct {
	srv *http.Server
}

// AdminDeps are the daemon components the admin surface reports on.
type AdminDeps struct {
	Registry   *registry.Registry
	Dashboards *dashboard.Registry
	JWTSecret  string // empty disables auth
}

// NewAdminServer builds the chi-routed admin server bound to addr. It does
// not start listening until Serve is called.
func NewAdminServer(addr string, deps AdminDeps) *AdminServer {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if deps.JWTSecret != "" {
		r.Use(bearerAuth(deps.JWTSecret))
	}

	r.Get("/status", statusHandler(deps))
	r.Get("/dashboard", dashboardHandler(deps))
	r.Handle("/metrics", promhttp.Handler())

	return &AdminServer{srv: &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}}
}

// Serve blocks until ctx is cancelled, then shuts the server down
// gracefully.
func (a *AdminServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			header := req.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")
			_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil {
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

type statusResponse struct {
	Indexes int      `json:"indexes"`
	Names   []string `json:"names"`
}

func statusHandler(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := deps.Registry.Names()
		writeJSON(w, statusResponse{Indexes: len(names), Names: names})
	}
}

type hostSnapshot struct {
	Host         string  `json:"host"`
	ErrorsInARow int     `json:"errors_in_a_row"`
	TotalQueries int64   `json:"total_queries"`
	AvgConnectMs float64 `json:"avg_connect_ms"`
}

func dashboardHandler(deps AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var out []hostSnapshot
		for _, d := range deps.Dashboards.All() {
			snap := d.Snapshot(dashboard.NumBuckets)
			host := d.Host()
			out = append(out, hostSnapshot{
				Host:         host.Key(),
				ErrorsInARow: snap.ErrorsInARow,
				TotalQueries: d.TotalQueries(),
				AvgConnectMs: snap.AverageConnectMs,
			})
		}
		writeJSON(w, out)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
