package aggregator

import (
	"fmt"
	"strings"
)

// DOT renders the execution graph as GraphViz DOT text. Stops at text
// generation: rasterizing into an image means shelling out to `dot`, which
// callers can do themselves if they need it.
func (g ExecutionGraph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph execution {\n")
	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "  %q [label=%q];\n", n.TaskID, fmt.Sprintf("%s\\n%s (%dms)", n.TaskID, n.Status, n.DurationMs))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "  %q -> %q;\n", e.Source, e.Target)
	}
	b.WriteString("}\n")
	return b.String()
}
