//go:build property

package build

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type edge struct {
	From int
	To   int
}

func genEdges(nodes int) gopter.Gen {
	return gen.SliceOf(gen.Struct(reflect.TypeOf(edge{}), map[string]gopter.Gen{
		"From": gen.IntRange(0, nodes-1),
		"To":   gen.IntRange(0, nodes-1),
	}))
}

func nodeName(i int) string {
	return fmt.Sprintf("n%02d", i)
}

// graphCache builds a cache over nodes with every node recorded and fresh.
func graphCache(t *testing.T, nodes int, edges []edge) (*DependencyCache, *fakeFS) {
	fs := newFakeFS()
	c := newTestCache(t, fs)
	for i := 0; i < nodes; i++ {
		fs.touch(nodeName(i))
	}
	for _, e := range edges {
		if e.From != e.To {
			c.RecordDependency(nodeName(e.From), nodeName(e.To))
		}
	}
	for i := 0; i < nodes; i++ {
		_ = c.UpdateTimestamp(nodeName(i))
	}
	return c, fs
}

// reaches reports whether from transitively depends on to, using only the
// edge list.
func reaches(edges []edge, from, to int) bool {
	seen := map[int]bool{from: true}
	stack := []int{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		for _, e := range edges {
			if e.From == n && e.From != e.To && !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return false
}

func TestDependencyCacheProperties(t *testing.T) {
	const nodes = 8

	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("cascading invalidation reaches exactly the transitive dependents", prop.ForAll(
		func(edges []edge, target int) bool {
			c, _ := graphCache(t, nodes, edges)

			got := map[string]bool{}
			for _, p := range c.InvalidateCascading(nodeName(target)) {
				got[p] = true
			}
			for i := 0; i < nodes; i++ {
				want := i == target || reaches(edges, i, target)
				if got[nodeName(i)] != want {
					return false
				}
				if want && !c.NeedsRebuild(nodeName(i)) {
					return false
				}
			}
			return true
		},
		genEdges(nodes),
		gen.IntRange(0, nodes-1),
	))

	properties.Property("a touched file makes exactly its dependents stale in an acyclic graph", prop.ForAll(
		func(edges []edge, target int) bool {
			// keep only forward edges so the graph is acyclic
			var dag []edge
			for _, e := range edges {
				if e.From < e.To {
					dag = append(dag, e)
				}
			}
			c, fs := graphCache(t, nodes, dag)
			fs.touch(nodeName(target))

			for i := 0; i < nodes; i++ {
				want := i == target || reaches(dag, i, target)
				if c.NeedsRebuild(nodeName(i)) != want {
					return false
				}
			}
			return true
		},
		genEdges(nodes),
		gen.IntRange(0, nodes-1),
	))

	properties.Property("recording an edge twice equals recording it once", prop.ForAll(
		func(edges []edge) bool {
			once, _ := graphCache(t, nodes, edges)
			twice, _ := graphCache(t, nodes, append(append([]edge(nil), edges...), edges...))

			for i := 0; i < nodes; i++ {
				a, b := once.Dependencies(nodeName(i)), twice.Dependencies(nodeName(i))
				if fmt.Sprint(a) != fmt.Sprint(b) {
					return false
				}
			}
			return true
		},
		genEdges(nodes),
	))

	properties.Property("needs rebuild terminates on arbitrary graphs", prop.ForAll(
		func(edges []edge, touched int) bool {
			c, fs := graphCache(t, nodes, edges)
			fs.touch(nodeName(touched))
			for i := 0; i < nodes; i++ {
				c.NeedsRebuild(nodeName(i))
			}
			return c.NeedsRebuild(nodeName(touched))
		},
		genEdges(nodes),
		gen.IntRange(0, nodes-1),
	))

	properties.TestingRun(t)
}
