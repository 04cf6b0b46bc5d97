package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fieldservice-backend/internal/billing"
	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/inventory"
	"fieldservice-backend/internal/records"
)

// SyncError is a failure of the backend store. The wrapped error is the
// driver's, unmodified.
type SyncError struct {
	Op     string
	TaskID int64
	Err    error
}

func (e *SyncError) Error() string {
	if e.TaskID != 0 {
		return fmt.Sprintf("sync %s task %d: %v", e.Op, e.TaskID, e.Err)
	}
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Repository is the Postgres-backed sync layer.
type Repository struct {
	DB *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{DB: db}
}

func (r *Repository) LoadTasks(ctx context.Context) ([]records.RawTask, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT
			id, description, category, address,
			latitude, longitude,
			estimated_cost, final_cost,
			status, priority, deadline, assignee_id,
			requires_documentation,
			dependencies, comments, attachments,
			before_scan, after_scan
		FROM tasks
		ORDER BY id
	`)
	if err != nil {
		return nil, &SyncError{Op: "load tasks", Err: err}
	}
	defer rows.Close()

	var out []records.RawTask
	for rows.Next() {
		var (
			t                   records.RawTask
			lat, lng, finalCost sql.NullFloat64
			deadline            sql.NullTime
			assignee            sql.NullInt64
			before, after       sql.NullString
		)
		err := rows.Scan(
			&t.ID, &t.Description, &t.Category, &t.Address,
			&lat, &lng,
			&t.EstimatedCost, &finalCost,
			&t.Status, &t.Priority, &deadline, &assignee,
			&t.RequiresDocumentation,
			pq.Array(&t.Dependencies), pq.Array(&t.Comments), pq.Array(&t.Attachments),
			&before, &after,
		)
		if err != nil {
			return nil, &SyncError{Op: "load tasks", Err: err}
		}
		t.Latitude = nullFloat(lat)
		t.Longitude = nullFloat(lng)
		t.FinalCost = nullFloat(finalCost)
		if deadline.Valid {
			d := deadline.Time
			t.Deadline = &d
		}
		if assignee.Valid {
			id := assignee.Int64
			t.AssigneeID = &id
		}
		t.BeforeScan = nullString(before)
		t.AfterScan = nullString(after)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &SyncError{Op: "load tasks", Err: err}
	}
	return out, nil
}

func (r *Repository) LoadUsers(ctx context.Context) ([]records.RawUser, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, username, role FROM users ORDER BY id`)
	if err != nil {
		return nil, &SyncError{Op: "load users", Err: err}
	}
	defer rows.Close()

	var out []records.RawUser
	for rows.Next() {
		var u records.RawUser
		if err := rows.Scan(&u.ID, &u.Username, &u.Role); err != nil {
			return nil, &SyncError{Op: "load users", Err: err}
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, &SyncError{Op: "load users", Err: err}
	}
	return out, nil
}

// Persist upserts the full task row.
func (r *Repository) Persist(ctx context.Context, t domain.Task) error {
	raw := records.FromTask(t)
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO tasks (
			id, description, category, address,
			latitude, longitude,
			estimated_cost, final_cost,
			status, priority, deadline, assignee_id,
			requires_documentation,
			dependencies, comments, attachments,
			before_scan, after_scan,
			updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18, now())
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			address = EXCLUDED.address,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			estimated_cost = EXCLUDED.estimated_cost,
			final_cost = EXCLUDED.final_cost,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			deadline = EXCLUDED.deadline,
			assignee_id = EXCLUDED.assignee_id,
			requires_documentation = EXCLUDED.requires_documentation,
			dependencies = EXCLUDED.dependencies,
			comments = EXCLUDED.comments,
			attachments = EXCLUDED.attachments,
			before_scan = EXCLUDED.before_scan,
			after_scan = EXCLUDED.after_scan,
			updated_at = now()
	`,
		raw.ID, raw.Description, raw.Category, raw.Address,
		raw.Latitude, raw.Longitude,
		raw.EstimatedCost, raw.FinalCost,
		raw.Status, raw.Priority, raw.Deadline, raw.AssigneeID,
		raw.RequiresDocumentation,
		pq.Array(raw.Dependencies), pq.Array(raw.Comments), pq.Array(raw.Attachments),
		raw.BeforeScan, raw.AfterScan,
	)
	if err != nil {
		return &SyncError{Op: "persist", TaskID: t.ID, Err: err}
	}
	return nil
}

// SaveEstimate upserts an estimate. Creation fields are never overwritten.
func (r *Repository) SaveEstimate(ctx context.Context, e billing.Estimate) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO estimates (id, region, store, manager, task_ids, total_estimated_cost, created_by, created_at, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			region = EXCLUDED.region,
			store = EXCLUDED.store,
			manager = EXCLUDED.manager,
			task_ids = EXCLUDED.task_ids,
			total_estimated_cost = EXCLUDED.total_estimated_cost,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, e.ID.String(), e.Region, e.Store, e.Manager, pq.Array(e.TaskIDs), e.TotalEstimatedCost,
		e.CreatedBy, e.CreatedAt, e.UpdatedBy, e.UpdatedAt)
	if err != nil {
		return &SyncError{Op: "save estimate", Err: err}
	}
	return nil
}

func (r *Repository) Estimate(ctx context.Context, id uuid.UUID) (billing.Estimate, error) {
	var (
		e         billing.Estimate
		updatedBy sql.NullInt64
		updatedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, region, store, manager, task_ids, total_estimated_cost, created_by, created_at, updated_by, updated_at
		FROM estimates
		WHERE id = $1
	`, id.String()).Scan(&e.ID, &e.Region, &e.Store, &e.Manager, pq.Array(&e.TaskIDs), &e.TotalEstimatedCost,
		&e.CreatedBy, &e.CreatedAt, &updatedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Estimate{}, domain.Errorf(domain.ErrNotFound, 0, "estimate %s", id)
	}
	if err != nil {
		return billing.Estimate{}, &SyncError{Op: "load estimate", Err: err}
	}
	e.UpdatedBy, e.UpdatedAt = nullInt(updatedBy), nullTime(updatedAt)
	return e, nil
}

// SaveInvoice upserts an invoice. Creation fields are never overwritten.
func (r *Repository) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO invoices (id, region, store, manager, task_ids, total_final_cost, created_by, created_at, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			region = EXCLUDED.region,
			store = EXCLUDED.store,
			manager = EXCLUDED.manager,
			task_ids = EXCLUDED.task_ids,
			total_final_cost = EXCLUDED.total_final_cost,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, inv.ID.String(), inv.Region, inv.Store, inv.Manager, pq.Array(inv.TaskIDs), inv.TotalFinalCost,
		inv.CreatedBy, inv.CreatedAt, inv.UpdatedBy, inv.UpdatedAt)
	if err != nil {
		return &SyncError{Op: "save invoice", Err: err}
	}
	return nil
}

func (r *Repository) Invoice(ctx context.Context, id uuid.UUID) (billing.Invoice, error) {
	var (
		inv       billing.Invoice
		updatedBy sql.NullInt64
		updatedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, region, store, manager, task_ids, total_final_cost, created_by, created_at, updated_by, updated_at
		FROM invoices
		WHERE id = $1
	`, id.String()).Scan(&inv.ID, &inv.Region, &inv.Store, &inv.Manager, pq.Array(&inv.TaskIDs), &inv.TotalFinalCost,
		&inv.CreatedBy, &inv.CreatedAt, &updatedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Invoice{}, domain.Errorf(domain.ErrNotFound, 0, "invoice %s", id)
	}
	if err != nil {
		return billing.Invoice{}, &SyncError{Op: "load invoice", Err: err}
	}
	inv.UpdatedBy, inv.UpdatedAt = nullInt(updatedBy), nullTime(updatedAt)
	return inv, nil
}

// -------------------------------
// INVENTORY
// -------------------------------

const itemColumns = `id, name, quantity, location, task_id`

func scanItem(row interface{ Scan(dest ...any) error }) (inventory.Item, error) {
	var (
		it   inventory.Item
		task sql.NullInt64
	)
	if err := row.Scan(&it.ID, &it.Name, &it.Quantity, &it.Location, &task); err != nil {
		return inventory.Item{}, err
	}
	it.TaskID = nullInt(task)
	return it, nil
}

func (r *Repository) CreateItem(ctx context.Context, in inventory.Input) (inventory.Item, error) {
	it, err := scanItem(r.DB.QueryRowContext(ctx, `
		INSERT INTO inventory_items (name, quantity, location, task_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+itemColumns,
		in.Name, in.Quantity, in.Location, in.TaskID))
	if err != nil {
		return inventory.Item{}, &SyncError{Op: "create item", Err: err}
	}
	return it, nil
}

func (r *Repository) Item(ctx context.Context, id int64) (inventory.Item, error) {
	it, err := scanItem(r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Item{}, domain.Errorf(domain.ErrNotFound, 0, "item %d", id)
	}
	if err != nil {
		return inventory.Item{}, &SyncError{Op: "load item", Err: err}
	}
	return it, nil
}

func (r *Repository) Items(ctx context.Context) ([]inventory.Item, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM inventory_items ORDER BY id`)
	if err != nil {
		return nil, &SyncError{Op: "load items", Err: err}
	}
	defer rows.Close()

	out := []inventory.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, &SyncError{Op: "load items", Err: err}
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, &SyncError{Op: "load items", Err: err}
	}
	return out, nil
}

func (r *Repository) UpdateItem(ctx context.Context, id int64, in inventory.Input) (inventory.Item, error) {
	it, err := scanItem(r.DB.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET name = $2, quantity = $3, location = $4, task_id = $5
		WHERE id = $1
		RETURNING `+itemColumns,
		id, in.Name, in.Quantity, in.Location, in.TaskID))
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Item{}, domain.Errorf(domain.ErrNotFound, 0, "item %d", id)
	}
	if err != nil {
		return inventory.Item{}, &SyncError{Op: "update item", Err: err}
	}
	return it, nil
}

func (r *Repository) DeleteItem(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		return &SyncError{Op: "delete item", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Errorf(domain.ErrNotFound, 0, "item %d", id)
	}
	return nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
