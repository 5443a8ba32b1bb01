// Package depgraph orders services by their declared dependencies.
package depgraph

import (
	"fmt"
	"sort"
	"strings"
)

// Sort returns keys in dependency order: every key appears after the keys it
// depends on. Dependencies outside keys are ignored. The graph is expected to
// be acyclic (see DetectCycles); a cycle does not loop, it just yields some
// order for the keys involved.
//
// Ties keep the order of keys, so the result is deterministic.
func Sort(keys []string, depsOf func(string) []string) []string {
	in := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		in[k] = struct{}{}
	}

	visited := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))

	var visit func(k string)
	visit = func(k string) {
		if visited[k] {
			return
		}
		visited[k] = true
		for _, dep := range depsOf(k) {
			if _, ok := in[dep]; ok {
				visit(dep)
			}
		}
		out = append(out, k)
	}

	for _, k := range keys {
		visit(k)
	}
	return out
}

// Reverse returns a reversed copy of order.
func Reverse(order []string) []string {
	out := make([]string, len(order))
	for i, k := range order {
		out[len(order)-1-i] = k
	}
	return out
}

// DetectCycles runs cycle detection on an adjacency list (node -> dependencies)
// and returns one error per cycle found, with the offending path.
func DetectCycles(adj map[string][]string) []error {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // done
	)
	color := make(map[string]int, len(adj))
	var stack []string
	var errs []error

	var dfs func(u string)
	dfs = func(u string) {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range adj[u] {
			switch color[v] {
			case gray:
				start := 0
				for i := range stack {
					if stack[i] == v {
						start = i
						break
					}
				}
				path := append(append([]string(nil), stack[start:]...), v)
				errs = append(errs, fmt.Errorf("dependency cycle detected: %s", strings.Join(path, " -> ")))
			case white:
				dfs(v)
			}
		}
		color[u] = black
		stack = stack[:len(stack)-1]
	}

	nodes := make([]string, 0, len(adj))
	for u := range adj {
		nodes = append(nodes, u)
	}
	sort.Strings(nodes)
	for _, u := range nodes {
		if color[u] == white {
			dfs(u)
		}
	}
	return errs
}
