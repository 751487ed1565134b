package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/depannage/api"
	"github.com/kilianp07/depannage/api/demandes"
	apidispatch "github.com/kilianp07/depannage/api/dispatch"
	"github.com/kilianp07/depannage/api/techniciens"
	"github.com/kilianp07/depannage/core/logger"
	"github.com/kilianp07/depannage/core/monitoring"
)

// Handler returns the API mux: demandes, techniciens, dispatch views, the
// Prometheus endpoint and a health probe.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	demandes.Register(mux, a.svc)
	techniciens.Register(mux, a.svc)
	apidispatch.Register(mux, a.journal, a.svc)
	mux.Handle("GET "+a.cfg.Metrics.Path, promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return withRecovery(withAccessLog(mux, a.log), a.log)
}

// withRecovery answers 500 on a handler panic and reports it.
func withRecovery(next http.Handler, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			err := fmt.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, v)
			monitoring.CaptureException(err, map[string]string{"path": r.URL.Path, "method": r.Method})
			log.Errorf("%v", err)
			api.WriteJSON(w, http.StatusInternalServerError, api.ErrorBody{Error: "internal error"})
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func withAccessLog(next http.Handler, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debugw("http request", map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
	})
}
