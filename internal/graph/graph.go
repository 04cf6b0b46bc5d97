// Package graph enforces and queries the "task A depends on task B" relation.
package graph

import (
	"container/heap"
	"slices"

	"fieldservice-backend/internal/domain"
)

// Source resolves task ids against the current task set.
type Source interface {
	Task(id int64) (domain.Task, bool)
}

// Tasks is the simplest Source: a map keyed by task id.
type Tasks map[int64]domain.Task

func (ts Tasks) Task(id int64) (domain.Task, bool) {
	t, ok := ts[id]
	return t, ok
}

// satisfied reports whether a dependency no longer holds up its dependents.
func satisfied(s domain.Status) bool {
	return s == domain.StatusCompleted || s == domain.StatusCancelled
}

// Blockers returns, ascending, the dependency ids of task that are not yet
// Completed or Cancelled. A dependency missing from src counts as blocking.
func Blockers(task domain.Task, src Source) []int64 {
	var out []int64
	for _, id := range task.Dependencies {
		dep, ok := src.Task(id)
		if !ok || !satisfied(dep.Status) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// CanTransitionToInProgress fails with DependencyNotSatisfied naming every
// blocking task.
func CanTransitionToInProgress(task domain.Task, src Source) error {
	if blocking := Blockers(task, src); len(blocking) > 0 {
		return domain.Blocked(task.ID, blocking)
	}
	return nil
}

// Reachable reports whether to can be reached from from by following
// dependency edges.
func Reachable(from, to int64, src Source) bool {
	seen := map[int64]bool{from: true}
	stack := []int64{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		t, ok := src.Task(cur)
		if !ok {
			continue
		}
		for _, next := range t.Dependencies {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// AddDependency records that task depends on dependsOn. The edge is
// rejected if it points at the task itself, at an unknown task, or if
// dependsOn already (transitively) depends on task.
func AddDependency(task *domain.Task, dependsOn int64, src Source) error {
	if dependsOn == task.ID {
		return domain.Errorf(domain.ErrSelfDependency, task.ID, "task cannot depend on itself")
	}
	if _, ok := src.Task(dependsOn); !ok {
		return domain.Errorf(domain.ErrPreconditionNotMet, task.ID, "dependency %d does not exist", dependsOn)
	}
	if task.DependsOn(dependsOn) {
		return nil
	}
	if Reachable(dependsOn, task.ID, src) {
		return domain.Errorf(domain.ErrCyclicDependency, task.ID, "task %d already depends on task %d", dependsOn, task.ID)
	}

	i, _ := slices.BinarySearch(task.Dependencies, dependsOn)
	task.Dependencies = slices.Insert(task.Dependencies, i, dependsOn)
	return nil
}

// RemoveDependency drops the edge if present. Removing edges can never
// break the acyclicity invariant.
func RemoveDependency(task *domain.Task, dependsOn int64) {
	if i, found := slices.BinarySearch(task.Dependencies, dependsOn); found {
		task.Dependencies = slices.Delete(task.Dependencies, i, i+1)
	}
}

// Graph is a read-only index over a task set.
type Graph struct {
	Deps       map[int64][]int64 // task -> tasks it depends on
	Dependents map[int64][]int64 // task -> tasks depending on it
	ids        []int64
}

// Build indexes tasks. Edges pointing outside the set are ignored.
func Build(tasks []domain.Task) *Graph {
	g := &Graph{
		Deps:       make(map[int64][]int64),
		Dependents: make(map[int64][]int64),
	}
	known := make(map[int64]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
		g.ids = append(g.ids, t.ID)
	}
	slices.Sort(g.ids)

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if !known[dep] {
				continue
			}
			g.Deps[t.ID] = append(g.Deps[t.ID], dep)
			g.Dependents[dep] = append(g.Dependents[dep], t.ID)
		}
	}
	for k := range g.Deps {
		slices.Sort(g.Deps[k])
	}
	for k := range g.Dependents {
		slices.Sort(g.Dependents[k])
	}
	return g
}

// DetectCycle returns one cycle path (first id repeated at the end) or nil.
func (g *Graph) DetectCycle() []int64 {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[int64]int)
	parent := make(map[int64]int64)

	var dfs func(node int64) []int64
	dfs = func(node int64) []int64 {
		color[node] = gray
		for _, next := range g.Deps[node] {
			if color[next] == gray {
				cycle := []int64{next, node}
				for cur := node; cur != next; {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				slices.Reverse(cycle)
				return cycle
			}
			if color[next] == white {
				parent[next] = node
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		return nil
	}

	for _, id := range g.ids {
		if color[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

type idHeap []int64

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(int64)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopoOrder lists task ids so that every task comes after its dependencies.
// Ties break by ascending id. It returns nil if the graph has a cycle.
func (g *Graph) TopoOrder() []int64 {
	indeg := make(map[int64]int, len(g.ids))
	for _, id := range g.ids {
		indeg[id] = len(g.Deps[id])
	}

	ready := &idHeap{}
	for _, id := range g.ids {
		if indeg[id] == 0 {
			heap.Push(ready, id)
		}
	}

	out := make([]int64, 0, len(g.ids))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int64)
		out = append(out, n)
		for _, m := range g.Dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	if len(out) != len(g.ids) {
		return nil
	}
	return out
}

// Roots returns the tasks that depend on nothing inside the set.
func (g *Graph) Roots() []int64 {
	var out []int64
	for _, id := range g.ids {
		if len(g.Deps[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}
