// Package graph implements the command model and dependency graph (C2):
// validation at install time, and the structural queries (successors,
// predecessors) the scheduler drives its ready-set discipline from.
// Grounded on internal/batch/batch.go in the teacher, which builds a
// gonum simple.DirectedGraph of package nodes, wires dependency edges,
// and uses topo.Sort to detect (and, there, break) cycles; Smelt keeps
// the same graph library but rejects cycles instead of breaking them,
// per spec.md's "cycle detected (report the cycle)" client error.
package graph

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/silogy-io/smelt"
	"github.com/silogy-io/smelt/internal/digest"
)

// ValidationError is a install-time validation failure (spec.md §4.2);
// the controller wraps these as pb.ClientError events.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type node struct {
	id   int64
	name string
}

func (n *node) ID() int64 { return n.id }

// Graph is the validated, immutable DAG of commands currently installed.
// Ownership is exclusive to the controller; callers see only the read-only
// view exposed by its methods.
type Graph struct {
	g            *simple.DirectedGraph
	commands     map[string]smelt.Command
	nodeOf       map[string]*node
	nameOfID     map[int64]string
	onFailure    map[string]string // command -> its on_failure peer, if any
	inputDigests map[string]string
}

// Install validates cmds and builds the dependency DAG. It returns a
// ValidationError (never a partially-built Graph) if validation fails;
// the caller is expected to retain its previous Graph in that case,
// satisfying spec.md's "either the new command list is fully installed or
// the previous graph is retained".
func Install(cmds []smelt.Command) (*Graph, error) {
	gr := &Graph{
		g:         simple.NewDirectedGraph(),
		commands:  make(map[string]smelt.Command, len(cmds)),
		nodeOf:    make(map[string]*node, len(cmds)),
		nameOfID:  make(map[int64]string, len(cmds)),
		onFailure: make(map[string]string),
	}

	outputOwner := make(map[string]string)
	for idx, c := range cmds {
		if _, dup := gr.commands[c.Name]; dup {
			return nil, validationErrorf("duplicate command name %q", c.Name)
		}
		if c.Name == "" {
			return nil, validationErrorf("command at index %d has an empty name", idx)
		}
		gr.commands[c.Name] = c
		n := &node{id: int64(idx), name: c.Name}
		gr.nodeOf[c.Name] = n
		gr.nameOfID[n.id] = c.Name
		gr.g.AddNode(n)

		for _, out := range c.Outputs {
			if owner, exists := outputOwner[out]; exists {
				return nil, validationErrorf("output %q is declared by both %q and %q", out, owner, c.Name)
			}
			outputOwner[out] = c.Name
		}
	}

	for _, c := range cmds {
		from := gr.nodeOf[c.Name]
		for _, dep := range c.Dependencies {
			if dep == c.Name {
				return nil, validationErrorf("command %q depends on itself", c.Name)
			}
			to, ok := gr.nodeOf[dep]
			if !ok {
				return nil, validationErrorf("command %q depends on unknown command %q", c.Name, dep)
			}
			gr.g.SetEdge(gr.g.NewEdge(from, to))
		}
		if c.OnFailure != "" {
			if _, ok := gr.nodeOf[c.OnFailure]; !ok {
				return nil, validationErrorf("command %q has on_failure referring to unknown command %q", c.Name, c.OnFailure)
			}
			gr.onFailure[c.Name] = c.OnFailure
		}
	}

	if _, err := topo.Sort(gr.g); err != nil {
		if uo, ok := err.(topo.Unorderable); ok {
			return nil, validationErrorf("dependency cycle detected: %s", describeCycle(uo, gr))
		}
		return nil, validationErrorf("dependency cycle detected: %v", err)
	}

	gr.computeInputDigests()

	return gr, nil
}

// computeInputDigests fills in.inputDigests bottom-up (dependencies
// before dependents), per spec.md §4.2a; cycles were already rejected
// above so recursion always terminates.
func (g *Graph) computeInputDigests() {
	g.inputDigests = make(map[string]string, len(g.commands))
	var compute func(name string)
	compute = func(name string) {
		if _, done := g.inputDigests[name]; done {
			return
		}
		c := g.commands[name]
		depDigests := make([]string, 0, len(c.Dependencies))
		for _, dep := range c.Dependencies {
			compute(dep)
			depDigests = append(depDigests, g.inputDigests[dep])
		}
		g.inputDigests[name] = digest.Command(
			c.Script, c.Runtime.Env, c.Runtime.NumCPUs, c.Runtime.MaxMemoryMB,
			c.Runtime.TimeoutS, c.WorkingDir, c.DependentFiles, depDigests,
		)
	}
	for name := range g.commands {
		compute(name)
	}
}

// InputDigest returns the computed input_digest for name, per spec.md
// §4.2a.
func (g *Graph) InputDigest(name string) (string, bool) {
	d, ok := g.inputDigests[name]
	return d, ok
}

func describeCycle(uo topo.Unorderable, gr *Graph) string {
	var parts []string
	for _, component := range uo {
		if len(component) < 2 {
			continue
		}
		names := make([]string, len(component))
		for i, n := range component {
			names[i] = gr.nameOfID[n.(*node).id]
		}
		parts = append(parts, strings.Join(names, " -> "))
	}
	return strings.Join(parts, "; ")
}

// Command returns the installed Command named name.
func (g *Graph) Command(name string) (smelt.Command, bool) {
	c, ok := g.commands[name]
	return c, ok
}

// Names returns every command name in the graph, in install order.
func (g *Graph) Names() []string {
	names := make([]string, len(g.commands))
	for name, n := range g.nodeOf {
		names[n.id] = name
	}
	return names
}

// Dependencies returns the names name directly depends on.
func (g *Graph) Dependencies(name string) []string {
	n, ok := g.nodeOf[name]
	if !ok {
		return nil
	}
	var deps []string
	it := g.g.From(n.id)
	for it.Next() {
		deps = append(deps, g.nameOfID[it.Node().(*node).id])
	}
	return deps
}

// Successors returns the names that directly depend on name.
func (g *Graph) Successors(name string) []string {
	n, ok := g.nodeOf[name]
	if !ok {
		return nil
	}
	var succ []string
	it := g.g.To(n.id)
	for it.Next() {
		succ = append(succ, g.nameOfID[it.Node().(*node).id])
	}
	return succ
}

// TransitiveSuccessors returns every name reachable by following
// successor edges from name (used for skip propagation).
func (g *Graph) TransitiveSuccessors(name string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, s := range g.Successors(n) {
			if !seen[s] {
				seen[s] = true
				walk(s)
			}
		}
	}
	walk(name)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	return out
}

// TransitiveAncestors returns every name name transitively depends on,
// i.e. its full set of dependencies (used to build a run_one/run_many
// frontier).
func (g *Graph) TransitiveAncestors(name string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, d := range g.Dependencies(n) {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(name)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	return out
}

// OnFailure returns the on_failure peer for name, if any.
func (g *Graph) OnFailure(name string) (string, bool) {
	v, ok := g.onFailure[name]
	return v, ok
}

// Ready returns the commands among candidates (typically the scheduler's
// still-Pending frontier) whose dependencies are all present in done.
func (g *Graph) Ready(candidates []string, done map[string]bool) []string {
	var ready []string
	for _, c := range candidates {
		deps := g.Dependencies(c)
		ok := true
		for _, d := range deps {
			if !done[d] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, c)
		}
	}
	return ready
}
