package records

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"fieldservice-backend/internal/domain"
)

func TestDecodeTasks_SnakeCase(t *testing.T) {
	data := []byte(`[{
		"id": 5,
		"description": "Replace compressor",
		"address": "12 Main St",
		"latitude": 40.7128,
		"longitude": -74.006,
		"estimated_cost": 350.5,
		"final_cost": 410,
		"status": "PendingReview",
		"priority": "High",
		"assignee_id": 4,
		"requires_documentation": true,
		"dependencies": [9, 2, 9],
		"before_scan": "scan://b/5"
	}]`)

	raw, err := DecodeTasks(data)
	if err != nil {
		t.Fatalf("DecodeTasks: %v", err)
	}
	tasks, err := Tasks(raw)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	task := tasks[0]
	if task.ID != 5 || task.Status != domain.StatusPendingReview || task.Priority != domain.PriorityHigh {
		t.Fatalf("task=%+v", task)
	}
	if task.FinalCost == nil || *task.FinalCost != 410 {
		t.Fatalf("FinalCost=%v, want 410", task.FinalCost)
	}
	if task.Location.Coordinate == nil || task.Location.Coordinate.Lat != 40.7128 {
		t.Fatalf("Coordinate=%v", task.Location.Coordinate)
	}
	if !slices.Equal(task.Dependencies, []int64{2, 9}) {
		t.Fatalf("Dependencies=%v, want [2 9]", task.Dependencies)
	}
	if task.Comments == nil || task.Attachments == nil {
		t.Fatalf("empty lists should be non-nil")
	}
}

func TestDecodeTasks_RejectsUnknownKeys(t *testing.T) {
	_, err := DecodeTasks([]byte(`[{"id": 1, "status": "Open", "estimatedCost": 3}]`))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err=%v, want %v", err, ErrMalformed)
	}
}

func TestDecodeTasks_Precheck(t *testing.T) {
	cases := map[string]string{
		"not json":   `[{"id": 1,`,
		"not array":  `{"id": 1}`,
		"not object": `[1, 2]`,
		"no id":      `[{"id": 1, "status": "Open"}, {"status": "Open"}]`,
		"string id":  `[{"id": "1", "status": "Open"}]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeTasks([]byte(doc)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("err=%v, want %v", err, ErrMalformed)
			}
		})
	}

	_, err := DecodeTasks([]byte(`[{"id": 1, "status": "Open"}, {"status": "Open"}]`))
	if err == nil || !strings.Contains(err.Error(), "#1") {
		t.Fatalf("err=%v, want index #1 named", err)
	}
}

func TestRawTask_Validation(t *testing.T) {
	lat := 91.0
	lng := 0.0
	neg := -1.0
	cases := map[string]RawTask{
		"zero id":         {ID: 0, Status: "Open"},
		"unknown status":  {ID: 1, Status: "Paused"},
		"unknown prio":    {ID: 1, Status: "Open", Priority: "Critical"},
		"negative cost":   {ID: 1, Status: "Open", EstimatedCost: -3},
		"negative final":  {ID: 1, Status: "Open", FinalCost: &neg},
		"bad latitude":    {ID: 1, Status: "Open", Latitude: &lat, Longitude: &lng},
		"half coordinate": {ID: 1, Status: "Open", Longitude: &lng},
		"self dependency": {ID: 1, Status: "Open", Dependencies: []int64{1}},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := r.Task(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestRawTask_LegacyStatusAndDefaults(t *testing.T) {
	task, err := RawTask{ID: 3, Status: "Not Started"}.Task()
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if task.Status != domain.StatusOpen || task.Priority != domain.PriorityMedium {
		t.Fatalf("status=%s priority=%s, want Open/Medium", task.Status, task.Priority)
	}
}

func TestTasks_Duplicate(t *testing.T) {
	_, err := Tasks([]RawTask{{ID: 1, Status: "Open"}, {ID: 1, Status: "Open"}})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestUsers(t *testing.T) {
	users, err := Users([]RawUser{{ID: 1, Username: "root", Role: "Super Admin"}})
	if err != nil || users[0].Role != domain.RoleSuperAdmin {
		t.Fatalf("users=%+v err=%v", users, err)
	}
	if _, err := Users([]RawUser{{ID: 2, Username: "x", Role: "Manager"}}); err == nil {
		t.Fatalf("unknown role accepted")
	}
	if _, err := Users([]RawUser{{ID: 1, Username: "a", Role: "Employee"}, {ID: 2, Username: "a", Role: "Employee"}}); err == nil {
		t.Fatalf("duplicate username accepted")
	}
}

func TestFromTask_RoundTrip(t *testing.T) {
	lat, lng := 51.5, -0.12
	raw := RawTask{ID: 8, Status: "Assigned", Priority: "Low", Latitude: &lat, Longitude: &lng, Address: "1 Strand"}
	task, err := raw.Task()
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	back := FromTask(task)
	if back.Latitude == nil || *back.Latitude != lat || back.Status != "Assigned" || back.Address != "1 Strand" {
		t.Fatalf("FromTask=%+v", back)
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	doc := `{
		"tasks": [{"id": 1, "description": "Inspect", "status": "Open"}],
		"users": [{"id": 4, "username": "tech", "role": "Employee"}]
	}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	src := FileSource{Path: path}
	tasks, err := src.LoadTasks(context.Background())
	if err != nil || len(tasks) != 1 || tasks[0].Description != "Inspect" {
		t.Fatalf("tasks=%+v err=%v", tasks, err)
	}
	users, err := src.LoadUsers(context.Background())
	if err != nil || len(users) != 1 || users[0].Username != "tech" {
		t.Fatalf("users=%+v err=%v", users, err)
	}
}
