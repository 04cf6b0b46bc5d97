// Package analytics journals what happened to tasks, and who did it, into
// analytics_events.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type CtxKey string

const (
	ctxUserIDKey CtxKey = "analytics_user_id"
)

// Execer is the part of *sql.DB the journal needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Envelope is what we store with every event.
type Envelope struct {
	UserID     int64
	SessionID  string
	Platform   string
	AppVersion string
}

// FromRequest extracts envelope fields from request headers.
func FromRequest(r *http.Request) Envelope {
	platform := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Platform")))
	switch platform {
	case "ios", "android", "web", "cli":
	default:
		platform = "unknown"
	}

	env := Envelope{
		SessionID:  strings.TrimSpace(r.Header.Get("X-Session-Id")),
		Platform:   platform,
		AppVersion: strings.TrimSpace(r.Header.Get("X-App-Version")),
	}
	if uid, ok := UserIDFromContext(r.Context()); ok {
		env.UserID = uid
	}
	return env
}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(ctxUserIDKey)
	if v == nil {
		return 0, false
	}
	uid, ok := v.(int64)
	return uid, ok
}

// SourceEventKeyFromRequest returns the client idempotency key, if any.
func SourceEventKeyFromRequest(r *http.Request) string {
	k := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if k != "" {
		return k
	}
	return strings.TrimSpace(r.Header.Get("X-Source-Event-Key"))
}

// Entry is one journal line.
type Entry struct {
	Name   string
	TaskID int64
	Props  any
	// Key deduplicates retries; empty means no deduplication.
	Key string
}

// Log inserts one event. Events without a user are skipped: the journal
// records actions, and anonymous callers cannot act.
func Log(ctx context.Context, db Execer, env Envelope, e Entry) error {
	if e.Name == "" {
		return nil
	}

	userID := env.UserID
	if userID == 0 {
		uid, ok := UserIDFromContext(ctx)
		if !ok {
			return nil
		}
		userID = uid
	}

	props := e.Props
	if props == nil {
		props = map[string]any{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return err
	}

	var taskID sql.NullInt64
	if e.TaskID != 0 {
		taskID = sql.NullInt64{Int64: e.TaskID, Valid: true}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO analytics_events (
			event_name, event_time,
			user_id, task_id, session_id,
			platform, app_version,
			source_event_key,
			properties
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
		ON CONFLICT (source_event_key) DO NOTHING
	`, e.Name, time.Now().UTC(),
		userID, taskID, nullIfEmpty(env.SessionID),
		platformOrUnknown(env.Platform), env.AppVersion,
		nullIfEmpty(e.Key),
		string(b),
	)
	return err
}

func platformOrUnknown(p string) string {
	if p == "" {
		return "unknown"
	}
	return p
}

func nullIfEmpty(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
