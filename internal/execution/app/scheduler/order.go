package scheduler

import (
	"github.com/agentflow-go/internal/domain/workflow"
)

// TopologicalOrder sorts nodes with Kahn's algorithm. The initial queue
// follows declaration order and newly ready nodes join it in edge order.
// When the graph has a cycle, an edge to an unknown node, or a repeated node
// id, the declared order is returned with fallback set, and edges are
// ignored.
func TopologicalOrder(wf *workflow.Workflow) (order []workflow.Node, fallback bool) {
	index := make(map[string]int, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if _, dup := index[n.ID]; dup {
			return declared(wf), true
		}
		index[n.ID] = i
	}

	inDegree := make([]int, len(wf.Nodes))
	successors := make([][]int, len(wf.Nodes))
	for _, e := range wf.Edges {
		src, okSrc := index[e.Source]
		dst, okDst := index[e.Target]
		if !okSrc || !okDst {
			return declared(wf), true
		}
		successors[src] = append(successors[src], dst)
		inDegree[dst]++
	}

	queue := make([]int, 0, len(wf.Nodes))
	for i := range wf.Nodes {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order = make([]workflow.Node, 0, len(wf.Nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, wf.Nodes[current])

		for _, next := range successors[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(wf.Nodes) {
		return declared(wf), true
	}
	return order, false
}

func declared(wf *workflow.Workflow) []workflow.Node {
	return append([]workflow.Node(nil), wf.Nodes...)
}
