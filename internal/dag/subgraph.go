package dag

import (
	"hexnode/internal/peerid"

	"golang.org/x/exp/slices"
)

// maxAncestorWalk bounds how far back Subgraph walks from the remote's
// advertised tips when deciding what the remote "definitely has".
const maxAncestorWalk = 64

// Lookup resolves a transition by key, local to whatever store backs it.
type Lookup func(key peerid.ID) (Transition, bool)

// ComputeSubgraph implements the spec.md §4.4 subgraph algorithm: seed a
// visited set from the remote's tips (walked backward up to
// maxAncestorWalk ancestors), then BFS backward from localTips, emitting
// any transition not already known to the remote. The result is returned
// parents-before-children.
func ComputeSubgraph(localTips []peerid.ID, remoteTips []Transition, lookup Lookup) []Transition {
	known := make(map[peerid.ID]bool)

	// Phase 1: bound what the remote definitely has.
	frontier := make([]peerid.ID, 0, len(remoteTips))
	for _, t := range remoteTips {
		k := t.Key()
		known[k] = true
		frontier = append(frontier, k)
	}
	walked := 0
	for len(frontier) > 0 && walked < maxAncestorWalk {
		next := make([]peerid.ID, 0)
		for _, k := range frontier {
			t, ok := lookup(k)
			if !ok {
				continue
			}
			for _, p := range t.Parents {
				if known[p] {
					continue
				}
				known[p] = true
				next = append(next, p)
				walked++
				if walked >= maxAncestorWalk {
					break
				}
			}
			if walked >= maxAncestorWalk {
				break
			}
		}
		frontier = next
	}

	// Phase 2: BFS backward from local tips, emitting anything unknown
	// to the remote.
	visited := make(map[peerid.ID]bool)
	var emitted []Transition
	queue := make([]peerid.ID, len(localTips))
	copy(queue, localTips)

	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if visited[k] {
			continue
		}
		visited[k] = true

		t, ok := lookup(k)
		if !ok {
			continue
		}
		if !known[k] {
			emitted = append(emitted, t)
		}
		for _, p := range t.Parents {
			if !visited[p] {
				queue = append(queue, p)
			}
		}
	}

	// BFS discovers children before parents; reverse for a
	// parents-before-children order.
	slices.Reverse(emitted)
	return emitted
}
