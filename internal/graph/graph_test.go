package graph

import (
	"sort"
	"testing"

	"github.com/silogy-io/smelt"
)

func cmd(name string, deps ...string) smelt.Command {
	return smelt.Command{Name: name, TargetType: smelt.TargetTest, Script: []string{"true"}, Dependencies: deps}
}

func TestInstallRejectsDuplicateName(t *testing.T) {
	_, err := Install([]smelt.Command{cmd("a"), cmd("a")})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestInstallRejectsUnknownDependency(t *testing.T) {
	_, err := Install([]smelt.Command{cmd("a", "ghost")})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestInstallRejectsSelfLoop(t *testing.T) {
	_, err := Install([]smelt.Command{cmd("a", "a")})
	if err == nil {
		t.Fatal("expected error for self-loop")
	}
}

func TestInstallRejectsCycle(t *testing.T) {
	a := cmd("a", "b")
	b := cmd("b", "a")
	_, err := Install([]smelt.Command{a, b})
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestInstallRejectsDuplicateOutput(t *testing.T) {
	a := cmd("a")
	a.Outputs = []string{"out/shared"}
	b := cmd("b")
	b.Outputs = []string{"out/shared"}
	_, err := Install([]smelt.Command{a, b})
	if err == nil {
		t.Fatal("expected duplicate output error")
	}
}

func TestInstallRejectsBadOnFailure(t *testing.T) {
	a := cmd("a")
	a.OnFailure = "ghost"
	_, err := Install([]smelt.Command{a})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLinearChainReadySet(t *testing.T) {
	g, err := Install([]smelt.Command{cmd("a"), cmd("b", "a"), cmd("c", "b")})
	if err != nil {
		t.Fatal(err)
	}
	ready := g.Ready(g.Names(), map[string]bool{})
	if !equalSet(ready, []string{"a"}) {
		t.Fatalf("ready = %v, want [a]", ready)
	}
	ready = g.Ready(g.Names(), map[string]bool{"a": true})
	if !equalSet(ready, []string{"a", "b"}) {
		t.Fatalf("ready = %v, want [a b]", ready)
	}
}

func TestFanOutSuccessorsAndAncestors(t *testing.T) {
	g, err := Install([]smelt.Command{
		cmd("root"),
		cmd("x", "root"),
		cmd("y", "root"),
		cmd("z", "root"),
	})
	if err != nil {
		t.Fatal(err)
	}
	succ := g.Successors("root")
	if !equalSet(succ, []string{"x", "y", "z"}) {
		t.Fatalf("successors(root) = %v", succ)
	}
	anc := g.TransitiveAncestors("x")
	if !equalSet(anc, []string{"root"}) {
		t.Fatalf("ancestors(x) = %v", anc)
	}
}

func TestTransitiveSuccessorsForSkipPropagation(t *testing.T) {
	g, err := Install([]smelt.Command{cmd("a"), cmd("b", "a"), cmd("c", "b")})
	if err != nil {
		t.Fatal(err)
	}
	succ := g.TransitiveSuccessors("a")
	if !equalSet(succ, []string{"b", "c"}) {
		t.Fatalf("transitive successors(a) = %v", succ)
	}
}

func TestInputDigestIsStableAndTransitive(t *testing.T) {
	g1, err := Install([]smelt.Command{cmd("a"), cmd("b", "a")})
	if err != nil {
		t.Fatal(err)
	}
	g2, err := Install([]smelt.Command{cmd("a"), cmd("b", "a")})
	if err != nil {
		t.Fatal(err)
	}
	da1, ok := g1.InputDigest("a")
	if !ok || da1 == "" {
		t.Fatal("expected a non-empty digest for a")
	}
	da2, _ := g2.InputDigest("a")
	if da1 != da2 {
		t.Fatalf("digest(a) not stable across identical installs: %s vs %s", da1, da2)
	}

	db1, _ := g1.InputDigest("b")

	changed := cmd("a")
	changed.Script = []string{"echo changed"}
	g3, err := Install([]smelt.Command{changed, cmd("b", "a")})
	if err != nil {
		t.Fatal(err)
	}
	da3, _ := g3.InputDigest("a")
	db3, _ := g3.InputDigest("b")
	if da3 == da1 {
		t.Fatal("expected a's digest to change when its script changes")
	}
	if db3 == db1 {
		t.Fatal("expected b's digest to change when its dependency a's digest changes")
	}
}

func equalSet(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	g := append([]string(nil), got...)
	w := append([]string(nil), want...)
	sort.Strings(g)
	sort.Strings(w)
	for i := range g {
		if g[i] != w[i] {
			return false
		}
	}
	return true
}
