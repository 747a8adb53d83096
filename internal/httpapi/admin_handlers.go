package httpapi

import (
	"net/http"
	"time"
)

const defaultScanWindow = 24 * time.Hour

type alertResponse struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Key      string `json:"key,omitempty"`
	Count    int    `json:"count"`
	Detail   string `json:"detail"`
}

// handleSecurityAlerts runs the monitoring scan over the recent audit
// trail. Reached only through the capability-gated pipeline.
func (a *API) handleSecurityAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	since := a.now().UTC().Add(-defaultScanWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}

	alerts, err := a.monitor.Scan(r.Context(), since)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]alertResponse, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, alertResponse{
			Rule:     alert.Rule,
			Severity: alert.Severity.String(),
			Key:      alert.Key,
			Count:    alert.Count,
			Detail:   alert.Detail,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":  since.Format(time.RFC3339),
		"alerts": out,
	})
}
