package auth

import "fieldservice-backend/internal/domain"

// Rank places a role in the hierarchy. Roles outside the closed set rank 0.
func Rank(r domain.Role) int {
	switch r {
	case domain.RoleSuperAdmin:
		return 4
	case domain.RoleOfficeAdmin:
		return 3
	case domain.RoleDispatcher:
		return 2
	case domain.RoleEmployee:
		return 1
	default:
		return 0
	}
}

// Action is something a user may attempt, gated by a minimum role.
type Action struct {
	Name    string
	MinRole domain.Role
}

var (
	ViewTasks        = Action{"view_tasks", domain.RoleEmployee}
	UpdateStatus     = Action{"update_status", domain.RoleEmployee}
	AssignTask       = Action{"assign_task", domain.RoleDispatcher}
	StartWork        = Action{"start_work", domain.RoleEmployee}
	SubmitForReview  = Action{"submit_for_review", domain.RoleEmployee}
	CompleteTask     = Action{"complete_task", domain.RoleOfficeAdmin}
	CancelTask       = Action{"cancel_task", domain.RoleDispatcher}
	ChangePriority   = Action{"change_priority", domain.RoleDispatcher}
	EditDependencies = Action{"edit_dependencies", domain.RoleDispatcher}
	AddComment       = Action{"add_comment", domain.RoleEmployee}
	AddAttachment    = Action{"add_attachment", domain.RoleEmployee}
	RecordScan       = Action{"record_scan", domain.RoleEmployee}
	SetFinalCost     = Action{"set_final_cost", domain.RoleOfficeAdmin}
	SetLocation      = Action{"set_location", domain.RoleDispatcher}
	ValidateAddress  = Action{"validate_address", domain.RoleEmployee}
	ScanReceipt      = Action{"scan_receipt", domain.RoleOfficeAdmin}
	ManageBilling    = Action{"manage_billing", domain.RoleOfficeAdmin}
	ManageInventory  = Action{"manage_inventory", domain.RoleOfficeAdmin}
	RegisterUser     = Action{"register_user", domain.RoleSuperAdmin}
)

// Actions is the full catalogue, used by the CLI permission matrix.
var Actions = []Action{
	ViewTasks, UpdateStatus, AssignTask, StartWork, SubmitForReview,
	CompleteTask, CancelTask, ChangePriority, EditDependencies, AddComment,
	AddAttachment, RecordScan, SetFinalCost, SetLocation, ValidateAddress,
	ScanReceipt, ManageBilling, ManageInventory, RegisterUser,
}

// Authorize reports whether user may perform action. An anonymous (nil) user
// is authorized for nothing.
func Authorize(user *domain.User, action Action) bool {
	if user == nil {
		return false
	}
	rank := Rank(user.Role)
	return rank > 0 && rank >= Rank(action.MinRole)
}

// RolesAtLeast returns every role ranked at or above min, highest first.
func RolesAtLeast(min domain.Role) []domain.Role {
	var out []domain.Role
	for _, r := range domain.Roles {
		if Rank(r) >= Rank(min) {
			out = append(out, r)
		}
	}
	return out
}
