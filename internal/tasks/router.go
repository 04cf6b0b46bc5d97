package tasks

import (
	"net/http"

	"fieldservice-backend/internal/auth"
)

// Register mounts every task, capture and billing route behind mw.
func Register(mux *http.ServeMux, h *Handler, mw auth.Middleware) {
	mux.HandleFunc("GET /tasks", mw.Wrap(h.List))
	mux.HandleFunc("GET /tasks/mine", mw.Wrap(h.Mine))
	mux.HandleFunc("GET /tasks/near", mw.Wrap(h.Near))
	mux.HandleFunc("GET /tasks/prioritized", mw.Wrap(h.Prioritized))
	mux.HandleFunc("GET /tasks/{id}", mw.Wrap(h.Get))
	mux.HandleFunc("GET /tasks/{id}/travel", mw.Wrap(h.Travel))

	mux.HandleFunc("POST /tasks/{id}/status", mw.Wrap(h.Transition()))
	mux.HandleFunc("POST /tasks/{id}/priority", mw.Wrap(h.ChangePriority()))
	mux.HandleFunc("POST /tasks/{id}/dependencies", mw.Wrap(h.AddDependency()))
	mux.HandleFunc("DELETE /tasks/{id}/dependencies/{dep}", mw.Wrap(h.RemoveDependency))
	mux.HandleFunc("POST /tasks/{id}/comments", mw.Wrap(h.AddComment()))
	mux.HandleFunc("POST /tasks/{id}/attachments", mw.Wrap(h.AddAttachment()))
	mux.HandleFunc("POST /tasks/{id}/scans", mw.Wrap(h.RecordScan()))
	mux.HandleFunc("POST /tasks/{id}/final-cost", mw.Wrap(h.SetFinalCost()))
	mux.HandleFunc("POST /tasks/{id}/location", mw.Wrap(h.SetLocation))

	mux.HandleFunc("POST /addresses/validate", mw.Wrap(h.ValidateAddress))
	mux.HandleFunc("POST /receipts/scan", mw.Wrap(h.ScanReceipt))

	mux.HandleFunc("POST /billing/estimates", mw.Wrap(h.CreateEstimate))
	mux.HandleFunc("GET /billing/estimates/{id}", mw.Wrap(h.GetEstimate))
	mux.HandleFunc("PUT /billing/estimates/{id}", mw.Wrap(h.UpdateEstimate))
	mux.HandleFunc("POST /billing/invoices", mw.Wrap(h.CreateInvoice))
	mux.HandleFunc("GET /billing/invoices/{id}", mw.Wrap(h.GetInvoice))
	mux.HandleFunc("PUT /billing/invoices/{id}", mw.Wrap(h.UpdateInvoice))
}
