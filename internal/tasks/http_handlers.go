package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldservice-backend/internal/analytics"
	"fieldservice-backend/internal/auth"
	"fieldservice-backend/internal/billing"
	"fieldservice-backend/internal/capture"
	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/geo"
	"fieldservice-backend/internal/store"
)

// BillingStore persists billing documents. Saves are upserts keyed by id.
type BillingStore interface {
	SaveEstimate(ctx context.Context, e billing.Estimate) error
	Estimate(ctx context.Context, id uuid.UUID) (billing.Estimate, error)
	SaveInvoice(ctx context.Context, inv billing.Invoice) error
	Invoice(ctx context.Context, id uuid.UUID) (billing.Invoice, error)
}

type Handler struct {
	Store     *store.Store
	Addresses capture.AddressValidator
	Receipts  capture.ReceiptScanner
	Billing   BillingStore
	// Journal may be nil.
	Journal analytics.Execer
}

// -------------------------------
// HELPERS
// -------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps domain error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDependencyNotSatisfied),
		errors.Is(err, domain.ErrSelfDependency),
		errors.Is(err, domain.ErrCyclicDependency):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPreconditionNotMet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrNoMatch), errors.Is(err, capture.ErrNoText), errors.Is(err, capture.ErrEmptyInput):
		return http.StatusUnprocessableEntity
	}
	var ce *capture.CaptureError
	if errors.As(err, &ce) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[WARN] request failed: %v", err)
		writeError(w, status, "internal server error")
		return
	}

	resp := ErrorResponse{Error: err.Error()}
	var de *domain.Error
	if errors.As(err, &de) {
		resp.Kind = de.Kind.Error()
		resp.TaskID = de.TaskID
		resp.Blocking = de.Blocking
		resp.Required = string(de.Required)
	}
	writeJSON(w, status, resp)
}

// requester resolves the authenticated caller to their current user record.
func (h *Handler) requester(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	u, ok := h.Store.User(uid)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return nil, false
	}
	return &u, true
}

func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	u, ok := h.requester(w, r)
	if !ok {
		return nil, false
	}
	if !auth.Authorize(u, auth.ViewTasks) {
		writeDomainError(w, domain.Denied(0, auth.ViewTasks.MinRole, "view tasks"))
		return nil, false
	}
	return u, true
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func queryCoordinate(r *http.Request) (geo.Coordinate, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return geo.Coordinate{}, domain.InvalidQuery("lat is required")
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		return geo.Coordinate{}, domain.InvalidQuery("lng is required")
	}
	c := geo.Coordinate{Lat: lat, Lng: lng}
	if err := c.Validate(); err != nil {
		return geo.Coordinate{}, domain.InvalidQuery("%v", err)
	}
	return c, nil
}

// -------------------------------
// QUERIES
// -------------------------------

// GET /tasks?status=...&assignee=...
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}

	q := r.URL.Query()
	var (
		out []domain.Task
		err error
	)
	switch {
	case q.Has("status"):
		out, err = h.Store.ByStatus(q.Get("status"))
	case q.Has("assignee"):
		id, perr := strconv.ParseInt(q.Get("assignee"), 10, 64)
		if perr != nil {
			err = domain.InvalidQuery("assignee must be an integer")
			break
		}
		out, err = h.Store.ByAssignee(id)
	default:
		out = h.Store.All()
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /tasks/mine
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	u, ok := h.viewer(w, r)
	if !ok {
		return
	}
	out, err := h.Store.ByAssignee(u.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /tasks/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	t, err := h.Store.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GET /tasks/near?lat=..&lng=..&radius=..
func (h *Handler) Near(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	origin, err := queryCoordinate(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	radius, err := strconv.ParseFloat(r.URL.Query().Get("radius"), 64)
	if err != nil {
		writeDomainError(w, domain.InvalidQuery("radius is required"))
		return
	}
	out, err := h.Store.Near(origin, geo.Meters(radius))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if out == nil {
		out = []store.Nearby{}
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /tasks/prioritized?lat=..&lng=..  (origin optional)
func (h *Handler) Prioritized(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	var origin *geo.Coordinate
	if r.URL.Query().Has("lat") || r.URL.Query().Has("lng") {
		c, err := queryCoordinate(r)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		origin = &c
	}
	out, err := h.Store.Prioritized(origin)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /tasks/{id}/travel?lat=..&lng=..
func (h *Handler) Travel(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.viewer(w, r); !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	origin, err := queryCoordinate(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	est, err := h.Store.TravelTo(r.Context(), id, origin)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, travelResponse(id, est))
}

// -------------------------------
// MUTATIONS
// -------------------------------

// mutate decodes body into req, converts it with build and applies the
// resulting mutation on behalf of the caller.
func mutate[T any](h *Handler, build func(T) (store.Mutation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := h.requester(w, r)
		if !ok {
			return
		}
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid task id")
			return
		}
		var body T
		if !decode(w, r, &body) {
			return
		}
		m, err := build(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.apply(w, r, u, store.Request{TaskID: id, Mutation: m})
	}
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, u *domain.User, req store.Request) {
	res, err := h.Store.ApplyMutation(r.Context(), u, req)
	if err != nil {
		if h.Journal != nil && errors.Is(err, domain.ErrPermissionDenied) {
			h.journal(r, "mutation_denied", req.TaskID, map[string]any{"mutation": store.Name(req.Mutation)})
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) journal(r *http.Request, name string, taskID int64, props map[string]any) {
	env := analytics.FromRequest(r)
	err := analytics.Log(r.Context(), h.Journal, env, analytics.Entry{Name: name, TaskID: taskID, Props: props})
	if err != nil {
		log.Printf("[WARN] journal %s task=%d: %v", name, taskID, err)
	}
}

// POST /tasks/{id}/status
func (h *Handler) Transition() http.HandlerFunc {
	return mutate(h, func(b TransitionRequest) (store.Mutation, error) {
		st, err := domain.ParseStatus(b.Status)
		if err != nil {
			return nil, err
		}
		return store.Transition{To: st, AssigneeID: b.AssigneeID}, nil
	})
}

// POST /tasks/{id}/priority
func (h *Handler) ChangePriority() http.HandlerFunc {
	return mutate(h, func(b PriorityRequest) (store.Mutation, error) {
		p, err := domain.ParsePriority(b.Priority)
		if err != nil {
			return nil, err
		}
		return store.ChangePriority{Priority: p}, nil
	})
}

// POST /tasks/{id}/dependencies
func (h *Handler) AddDependency() http.HandlerFunc {
	return mutate(h, func(b DependencyRequest) (store.Mutation, error) {
		if b.DependsOn <= 0 {
			return nil, errors.New("depends_on required")
		}
		return store.AddDependency{DependsOn: b.DependsOn}, nil
	})
}

// DELETE /tasks/{id}/dependencies/{dep}
func (h *Handler) RemoveDependency(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requester(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	dep, ok := pathID(r, "dep")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid dependency id")
		return
	}
	h.apply(w, r, u, store.Request{TaskID: id, Mutation: store.RemoveDependency{DependsOn: dep}})
}

// POST /tasks/{id}/comments
func (h *Handler) AddComment() http.HandlerFunc {
	return mutate(h, func(b CommentRequest) (store.Mutation, error) {
		return store.AddComment{Text: b.Text}, nil
	})
}

// POST /tasks/{id}/attachments
func (h *Handler) AddAttachment() http.HandlerFunc {
	return mutate(h, func(b AttachmentRequest) (store.Mutation, error) {
		return store.AddAttachment{Ref: b.Ref}, nil
	})
}

// POST /tasks/{id}/scans
func (h *Handler) RecordScan() http.HandlerFunc {
	return mutate(h, func(b ScanRequest) (store.Mutation, error) {
		return store.RecordScan{Kind: store.ScanKind(strings.ToLower(b.Kind)), Ref: b.Ref}, nil
	})
}

// POST /tasks/{id}/final-cost
func (h *Handler) SetFinalCost() http.HandlerFunc {
	return mutate(h, func(b FinalCostRequest) (store.Mutation, error) {
		if b.Amount == nil {
			return nil, errors.New("amount required")
		}
		return store.SetFinalCost{Amount: *b.Amount}, nil
	})
}

// POST /tasks/{id}/location
// The address is standardized first; the task keeps the validated form.
func (h *Handler) SetLocation(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requester(w, r)
	if !ok {
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if !auth.Authorize(u, auth.SetLocation) {
		writeDomainError(w, domain.Denied(id, auth.SetLocation.MinRole, "%s", auth.SetLocation.Name))
		return
	}
	var body LocationRequest
	if !decode(w, r, &body) {
		return
	}

	v, err := h.Addresses.ValidateAddress(r.Context(), body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.apply(w, r, u, store.Request{TaskID: id, Mutation: store.SetLocation{Location: v.Location()}})
}

// -------------------------------
// CAPTURE
// -------------------------------

// POST /addresses/validate
func (h *Handler) ValidateAddress(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requester(w, r)
	if !ok {
		return
	}
	if !auth.Authorize(u, auth.ValidateAddress) {
		writeDomainError(w, domain.Denied(0, auth.ValidateAddress.MinRole, "%s", auth.ValidateAddress.Name))
		return
	}
	var body LocationRequest
	if !decode(w, r, &body) {
		return
	}
	v, err := h.Addresses.ValidateAddress(r.Context(), body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /receipts/scan
func (h *Handler) ScanReceipt(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requester(w, r)
	if !ok {
		return
	}
	if !auth.Authorize(u, auth.ScanReceipt) {
		writeDomainError(w, domain.Denied(0, auth.ScanReceipt.MinRole, "%s", auth.ScanReceipt.Name))
		return
	}
	var body ReceiptRequest
	if !decode(w, r, &body) {
		return
	}
	img, err := base64.StdEncoding.DecodeString(body.Image)
	if err != nil || len(img) == 0 {
		writeError(w, http.StatusBadRequest, "image must be non-empty base64")
		return
	}
	text, err := h.Receipts.ScanReceipt(r.Context(), img)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text})
}

// -------------------------------
// BILLING
// -------------------------------

// billingRequest authorizes the caller before decoding the body and
// resolving its task ids, so an unauthorized caller learns nothing about
// which tasks exist.
func (h *Handler) billingRequest(w http.ResponseWriter, r *http.Request) (*domain.User, billing.Header, []domain.Task, bool) {
	u, ok := h.requester(w, r)
	if !ok {
		return nil, billing.Header{}, nil, false
	}
	if err := billing.Authorize(u); err != nil {
		writeDomainError(w, err)
		return nil, billing.Header{}, nil, false
	}
	var body BillingRequest
	if !decode(w, r, &body) {
		return nil, billing.Header{}, nil, false
	}
	ts := make([]domain.Task, 0, len(body.TaskIDs))
	for _, id := range body.TaskIDs {
		t, err := h.Store.Get(id)
		if err != nil {
			writeDomainError(w, err)
			return nil, billing.Header{}, nil, false
		}
		ts = append(ts, t)
	}
	return u, billing.Header{Region: body.Region, Store: body.Store, Manager: body.Manager}, ts, true
}

// documentID authorizes the caller and parses the {id} path segment.
func (h *Handler) documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	u, ok := h.requester(w, r)
	if !ok {
		return uuid.Nil, false
	}
	if err := billing.Authorize(u); err != nil {
		writeDomainError(w, err)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return uuid.Nil, false
	}
	return id, true
}

// POST /billing/estimates
func (h *Handler) CreateEstimate(w http.ResponseWriter, r *http.Request) {
	u, hdr, ts, ok := h.billingRequest(w, r)
	if !ok {
		return
	}
	est, err := billing.NewEstimate(u, hdr, ts, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Billing.SaveEstimate(r.Context(), est); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, est)
}

// GET /billing/estimates/{id}
func (h *Handler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	est, err := h.Billing.Estimate(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// PUT /billing/estimates/{id}
func (h *Handler) UpdateEstimate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	prev, err := h.Billing.Estimate(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	u, hdr, ts, ok := h.billingRequest(w, r)
	if !ok {
		return
	}
	est, err := billing.ReviseEstimate(u, prev, hdr, ts, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Billing.SaveEstimate(r.Context(), est); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// POST /billing/invoices
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	u, hdr, ts, ok := h.billingRequest(w, r)
	if !ok {
		return
	}
	inv, err := billing.NewInvoice(u, hdr, ts, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Billing.SaveInvoice(r.Context(), inv); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// GET /billing/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	inv, err := h.Billing.Invoice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// PUT /billing/invoices/{id}
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	prev, err := h.Billing.Invoice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	u, hdr, ts, ok := h.billingRequest(w, r)
	if !ok {
		return
	}
	inv, err := billing.ReviseInvoice(u, prev, hdr, ts, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Billing.SaveInvoice(r.Context(), inv); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}
