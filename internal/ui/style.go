package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"fieldservice-backend/internal/domain"
	"fieldservice-backend/internal/lifecycle"
)

// Sprint color functions for building styled strings.
var (
	Bold       = color.New(color.Bold).SprintFunc()
	Dim        = color.New(color.Faint).SprintFunc()
	Cyan       = color.New(color.FgCyan).SprintFunc()
	Green      = color.New(color.FgGreen).SprintFunc()
	Red        = color.New(color.FgRed).SprintFunc()
	Yellow     = color.New(color.FgYellow).SprintFunc()
	Magenta    = color.New(color.FgMagenta).SprintFunc()
	BoldCyan   = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldRed    = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow = color.New(color.Bold, color.FgYellow).SprintFunc()
)

// StatusIcon returns a colored status icon for compact table display.
func StatusIcon(s domain.Status) string {
	switch s {
	case domain.StatusCompleted:
		return Green("✓")
	case domain.StatusInProgress:
		return Cyan("●")
	case domain.StatusPendingReview:
		return Magenta("◐")
	case domain.StatusAssigned:
		return Yellow("○")
	case domain.StatusCancelled:
		return Dim("⊘")
	default:
		return Dim("◌")
	}
}

func PriorityLabel(p domain.Priority) string {
	switch p {
	case domain.PriorityUrgent:
		return BoldRed(string(p))
	case domain.PriorityHigh:
		return BoldYellow(string(p))
	case domain.PriorityLow:
		return Dim(string(p))
	default:
		return string(p)
	}
}

// Check renders an allowed/denied mark.
func Check(ok bool) string {
	if ok {
		return Green("✓")
	}
	return Red("✗")
}

// TaskLine writes one row of a task table.
func TaskLine(w io.Writer, t domain.Task) {
	assignee := Dim("-")
	if t.AssigneeID != nil {
		assignee = fmt.Sprintf("#%d", *t.AssigneeID)
	}
	deps := ""
	if len(t.Dependencies) > 0 {
		ids := make([]string, len(t.Dependencies))
		for i, id := range t.Dependencies {
			ids[i] = fmt.Sprintf("#%d", id)
		}
		deps = Dim(" after " + strings.Join(ids, ","))
	}
	fmt.Fprintf(w, "  %s %s %-13s %-8s %-5s %s%s\n",
		StatusIcon(t.Status), BoldCyan(fmt.Sprintf("#%-4d", t.ID)), t.Status,
		PriorityLabel(t.Priority), assignee, t.Description, deps)
}

// NextStatuses renders the statuses a task can move to from s.
func NextStatuses(s domain.Status) string {
	next := lifecycle.Next(s)
	if len(next) == 0 {
		return Dim("terminal")
	}
	names := make([]string, len(next))
	for i, to := range next {
		names[i] = string(to)
	}
	return strings.Join(names, ", ")
}
