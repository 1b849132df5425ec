package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/channels"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
	"github.com/roelfdiedericks/clawrelay/internal/metrics"
)

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status   string   `json:"status"` // "ok" or "degraded"
	Version  string   `json:"version,omitempty"`
	Uptime   string   `json:"uptime"`
	Stopped  []string `json:"stopped,omitempty"` // Surfaces whose monitor has given up
	Surfaces int      `json:"surfaces"`
}

// StatusResponse is the /status body.
type StatusResponse struct {
	Surfaces map[string]channels.ChannelStatus `json:"surfaces"`
	Metrics  []metrics.MetricSnapshot          `json:"metrics"`
	Uptime   string                            `json:"uptime"`
}

// handleHealth reports 503 once any surface has stopped for good.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  metrics.GetInstance().Uptime().Round(time.Second).String(),
	}
	code := http.StatusOK
	for name, st := range s.source.Status() {
		resp.Surfaces++
		if !st.Running {
			resp.Stopped = append(resp.Stopped, name)
		}
	}
	if len(resp.Stopped) > 0 {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		L_warn("http: status - wrong method", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reg := metrics.GetInstance()
	writeJSON(w, http.StatusOK, StatusResponse{
		Surfaces: s.source.Status(),
		Metrics:  reg.GetSnapshot(),
		Uptime:   reg.Uptime().Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_debug("http: response write failed", "error", err)
	}
}
