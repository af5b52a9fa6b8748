package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wonny/optchain/internal/calendar"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// parseDate reads YYYY-MM-DD; "today" resolves to the current ET date
func parseDate(s string, now time.Time) (time.Time, error) {
	if s == "today" {
		return calendar.Today(now), nil
	}
	return calendar.Parse(s)
}
