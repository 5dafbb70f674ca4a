package api

import (
	"net/http"
	"time"

	"github.com/mycloud-net/storage-go/internal/util"
)

func (h *handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"name":         "mycloud storage",
		"service_time": h.clock.Now().UTC().Format(time.RFC3339),
	})
}
