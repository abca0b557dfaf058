// Package graph sorts outbox artifacts by their declared dependencies.
// It is pure: every call rebuilds adjacency and in-degree maps from the
// flat artifact batch it is given, so no persistent graph structure exists
// between calls.
package graph

import (
	"fmt"
	"strings"

	"github.com/relves/scopesync/pkg/types"
)

// Sort returns the batch in dependency order: every dependency precedes its
// dependents (Kahn's algorithm).
//
// Dependencies on ids outside the batch are validated against pushed when it
// is non-nil: an id absent from both the batch and pushed fails the whole
// sort, since the remote service would reject the dependent anyway. With a
// nil pushed set external edges are ignored and the caller takes
// responsibility for them.
//
// A cycle fails the sort with an error naming every artifact that could not
// be ordered.
func Sort(artifacts []*types.OutboxArtifact, pushed map[string]bool) ([]*types.OutboxArtifact, error) {
	byID := make(map[string]*types.OutboxArtifact, len(artifacts))
	for _, a := range artifacts {
		byID[a.ID] = a
	}

	dependents := make(map[string][]string)
	inDegree := make(map[string]int, len(artifacts))
	for _, a := range artifacts {
		inDegree[a.ID] = 0
	}
	for _, a := range artifacts {
		for _, dep := range a.DependsOn {
			if _, inBatch := byID[dep]; !inBatch {
				if pushed != nil && !pushed[dep] {
					return nil, fmt.Errorf("artifact %s depends on %s which is neither pending nor pushed", a.ID, dep)
				}
				continue
			}
			dependents[dep] = append(dependents[dep], a.ID)
			inDegree[a.ID]++
		}
	}

	queue := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		if inDegree[a.ID] == 0 {
			queue = append(queue, a.ID)
		}
	}

	sorted := make([]*types.OutboxArtifact, 0, len(artifacts))
	placed := make(map[string]bool, len(artifacts))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, byID[id])
		placed[id] = true
		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(artifacts) {
		var remaining []string
		for _, a := range artifacts {
			if !placed[a.ID] {
				remaining = append(remaining, a.ID)
			}
		}
		return nil, fmt.Errorf("dependency cycle among artifacts: %s", strings.Join(remaining, ", "))
	}

	return sorted, nil
}

// MissingDependencies returns the subset of the artifact's declared
// dependencies absent from available, preserving declaration order.
func MissingDependencies(a *types.OutboxArtifact, available map[string]bool) []string {
	var missing []string
	for _, dep := range a.DependsOn {
		if !available[dep] {
			missing = append(missing, dep)
		}
	}
	return missing
}

// BuildChain returns the transitive dependency closure of artifactID in
// push order: post-order depth-first, each dependency before its dependent,
// artifactID itself last. Ids absent from byID are skipped silently, since
// the caller may hold only a partial view of the graph. Returns nil when
// artifactID itself is unknown.
func BuildChain(artifactID string, byID map[string]*types.OutboxArtifact) []string {
	if _, ok := byID[artifactID]; !ok {
		return nil
	}

	visited := make(map[string]bool)
	var chain []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		a, ok := byID[id]
		if !ok {
			return
		}
		visited[id] = true
		for _, dep := range a.DependsOn {
			visit(dep)
		}
		chain = append(chain, id)
	}

	visit(artifactID)
	return chain
}
