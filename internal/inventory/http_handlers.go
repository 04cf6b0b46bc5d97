package inventory

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/domain"
)

// Users resolves the authenticated caller.
type Users interface {
	User(id int64) (domain.User, bool)
}

type Handler struct {
	Service *Service
	Users   Users
}

type errorResponse struct {
	Error    string `json:"error"`
	Required string `json:"required_role,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		resp := errorResponse{Error: err.Error()}
		if errors.As(err, &de) {
			resp.Required = string(de.Required)
		}
		writeJSON(w, http.StatusForbidden, resp)
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrPreconditionNotMet):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		log.Printf("[WARN] inventory request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func (h *Handler) requester(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return nil, false
	}
	u, ok := h.Users.User(uid)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unknown user"})
		return nil, false
	}
	return &u, true
}

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid item id"})
		return 0, false
	}
	return id, true
}

func decodeInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	var in Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return Input{}, false
	}
	return in, true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requester(w, r)
	if !ok {
		return
	}
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	it, err := h.Service.Create(r.Context(), u, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requester(w, r)
	if !ok {
		return
	}
	items, err := h.Service.List(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requester(w, r)
	if !ok {
		return
	}
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	it, err := h.Service.Get(r.Context(), u, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requester(w, r)
	if !ok {
		return
	}
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	in, ok := decodeInput(w, r)
	if !ok {
		return
	}
	it, err := h.Service.Update(r.Context(), u, id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requester(w, r)
	if !ok {
		return
	}
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	if err := h.Service.Delete(r.Context(), u, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Register mounts the inventory routes behind mw.
func Register(mux *http.ServeMux, h *Handler, mw auth.Middleware) {
	mux.HandleFunc("POST /inventory", mw.Wrap(h.Create))
	mux.HandleFunc("GET /inventory", mw.Wrap(h.List))
	mux.HandleFunc("GET /inventory/{id}", mw.Wrap(h.Get))
	mux.HandleFunc("PUT /inventory/{id}", mw.Wrap(h.Update))
	mux.HandleFunc("DELETE /inventory/{id}", mw.Wrap(h.Delete))
}
