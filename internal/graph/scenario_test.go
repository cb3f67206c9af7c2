package graph_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/installforge/core/internal/component"
	"github.com/installforge/core/internal/graph"
)

func TestGraphScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ComponentGraph Scenarios")
}

var _ = Describe("ComponentGraph resolution", func() {
	var components []*component.Component

	Context("a three-component cycle", func() {
		BeforeEach(func() {
			components = []*component.Component{
				comp("pkg.a", checked, withDeps("pkg.b")),
				comp("pkg.b", checked, withDeps("pkg.c")),
				comp("pkg.c", checked, withDeps("pkg.a")),
			}
		})

		It("resolves the install set without error", func() {
			g := graph.New(components)
			additions, err := g.ResolveInstallSet()
			Expect(err).NotTo(HaveOccurred())
			Expect(additions).To(HaveLen(3))
		})

		It("fails topological ordering with a dependency cycle error", func() {
			g := graph.New(components)
			additions, err := g.ResolveInstallSet()
			Expect(err).NotTo(HaveOccurred())

			_, err = g.TopologicalOrder(additions)
			Expect(err).To(HaveOccurred())

			var cycleErr *graph.CycleError
			Expect(AsCycleError(err, &cycleErr)).To(BeTrue())
			Expect(cycleErr.Path).To(ContainElements(graph.NodeID("pkg.a"), graph.NodeID("pkg.b"), graph.NodeID("pkg.c")))
		})
	})

	Context("a diamond dependency on a shared core component", func() {
		BeforeEach(func() {
			components = []*component.Component{
				comp("app", checked, withDeps("libA", "libB")),
				comp("libA", withDeps("core")),
				comp("libB", withDeps("core")),
				comp("core"),
			}
		})

		It("schedules every transitive dependency exactly once", func() {
			g := graph.New(components)
			additions, err := g.ResolveInstallSet()
			Expect(err).NotTo(HaveOccurred())
			Expect(namesOf(additions)).To(ConsistOf("app", "libA", "libB", "core"))
		})

		It("orders core before libA and libB, and both before app", func() {
			g := graph.New(components)
			additions, err := g.ResolveInstallSet()
			Expect(err).NotTo(HaveOccurred())

			layers, err := g.TopologicalOrder(additions)
			Expect(err).NotTo(HaveOccurred())

			flat := graph.Flatten(layers)
			index := map[string]int{}
			for i, n := range flat {
				index[n.Name] = i
			}
			Expect(index["core"]).To(BeNumerically("<", index["libA"]))
			Expect(index["core"]).To(BeNumerically("<", index["libB"]))
			Expect(index["libA"]).To(BeNumerically("<", index["app"]))
			Expect(index["libB"]).To(BeNumerically("<", index["app"]))
		})
	})
})

// AsCycleError mirrors errors.As without importing the standard errors
// package twice under different names across this file's import set.
func AsCycleError(err error, target **graph.CycleError) bool {
	for err != nil {
		if ce, ok := err.(*graph.CycleError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
