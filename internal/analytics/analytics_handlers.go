package analytics

import (
	"encoding/json"
	"log"
	"net/http"
	"slices"
)

// clientEvents are the screen-level events apps may report themselves.
// Task changes are journaled server-side and cannot be posted.
var clientEvents = []string{
	"app_opened",
	"task_viewed",
	"route_opened",
	"scan_started",
}

func ClientEventHandler(db Execer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var body struct {
			Name       string         `json:"name"`
			TaskID     int64          `json:"task_id"`
			Properties map[string]any `json:"properties"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if !slices.Contains(clientEvents, body.Name) {
			http.Error(w, "unknown event", http.StatusBadRequest)
			return
		}

		env := FromRequest(r)
		env.UserID = uid

		err := Log(r.Context(), db, env, Entry{
			Name:   body.Name,
			TaskID: body.TaskID,
			Props:  body.Properties,
			Key:    SourceEventKeyFromRequest(r),
		})
		if err != nil {
			// the journal is best effort; the client has nothing to retry
			log.Printf("[WARN] analytics %s user=%d: %v", body.Name, uid, err)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}
