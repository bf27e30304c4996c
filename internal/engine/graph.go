package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/picklr-io/sweep/internal/ir"
)

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // creation order
	revOrder []string // destruction order
}

type dagNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from resources. Edges come from
// DependsOn, ptr:// references and the AfterDeclaredOfType ordering hint.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	declaredByType := make(map[string][]string)
	for _, res := range resources {
		addr := resourceAddr(res)
		dag.nodes[addr] = &dagNode{addr: addr}
		if !res.Purging {
			declaredByType[res.Type] = append(declaredByType[res.Type], addr)
		}
	}

	for _, res := range resources {
		addr := resourceAddr(res)
		node := dag.nodes[addr]
		for _, dep := range resourceDeps(res, declaredByType) {
			if dep == addr {
				continue
			}
			if _, ok := dag.nodes[dep]; ok {
				node.edges = appendUnique(node.edges, dep)
			}
		}
	}

	for addr, node := range dag.nodes {
		for _, dep := range node.edges {
			dag.nodes[dep].revEdges = append(dag.nodes[dep].revEdges, addr)
		}
	}

	order, err := dag.topoSort()
	if err != nil {
		return nil, err
	}
	dag.order = order

	dag.revOrder = make([]string, len(order))
	for i, addr := range order {
		dag.revOrder[len(order)-1-i] = addr
	}

	return dag, nil
}

// resourceDeps lists every address res must wait for. declaredByType maps a
// type to its declared (non-purge) addresses.
func resourceDeps(res *ir.Resource, declaredByType map[string][]string) []string {
	return append(referenceDeps(res), hintDeps(res, declaredByType)...)
}

// referenceDeps lists the addresses res names through dependsOn and ptr refs.
func referenceDeps(res *ir.Resource) []string {
	deps := append([]string{}, res.DependsOn...)
	for _, ref := range extractPtrRefs(res.Properties) {
		if addr := ptrRefToAddr(ref); addr != "" {
			deps = append(deps, addr)
		}
	}
	return deps
}

// hintDeps lists the declared addresses named by the ordering hint of res.
func hintDeps(res *ir.Resource, declaredByType map[string][]string) []string {
	if res.Ordering == nil || res.Ordering.AfterDeclaredOfType == "" {
		return nil
	}
	return declaredByType[res.Ordering.AfterDeclaredOfType]
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order.
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// topoSort runs Kahn's algorithm. Ready nodes are taken in address order so
// the result is stable across runs.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	var queue []string
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
		if len(node.edges) == 0 {
			queue = append(queue, addr)
		}
	}
	sort.Strings(queue)

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		var ready []string
		for _, dependent := range d.nodes[node].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(sorted) != len(d.nodes) {
		return nil, fmt.Errorf("dependency cycle detected in resource graph")
	}

	return sorted, nil
}

// Dependencies returns the direct dependencies of addr.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the addresses that depend directly on addr.
func (d *DAG) Dependents(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.revEdges
	}
	return nil
}

// TransitiveDeps returns every address addr depends on, directly or not.
func (d *DAG) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var out []string
	var visit func(string)
	visit = func(a string) {
		node, ok := d.nodes[a]
		if !ok {
			return
		}
		for _, dep := range node.edges {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			visit(dep)
		}
	}
	visit(addr)
	sort.Strings(out)
	return out
}

// ResourceAddr returns the type.name address of a resource.
func ResourceAddr(res *ir.Resource) string {
	return resourceAddr(res)
}

func resourceAddr(res *ir.Resource) string {
	t := res.Type
	if t == "" {
		t = "null_resource"
	}
	return ir.Reference{Type: t, Name: res.Name}.String()
}

// extractPtrRefs extracts all ptr:// references from a property value.
func extractPtrRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "ptr://") {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, extractPtrRefs(v)...)
		}
	}
	return refs
}

// ptrRefToAddr converts a reference to a resource address:
// ptr://aws_s3_bucket/assets/arn -> aws_s3_bucket.assets
func ptrRefToAddr(ref string) string {
	typ, name, _, ok := splitPtrRef(ref)
	if !ok {
		return ""
	}
	return ir.Reference{Type: typ, Name: name}.String()
}

// splitPtrRef parses ptr://<type>/<name>[/<attribute>].
func splitPtrRef(ref string) (typ, name, attr string, ok bool) {
	path, found := strings.CutPrefix(ref, "ptr://")
	if !found {
		return "", "", "", false
	}
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		attr = parts[2]
	}
	return parts[0], parts[1], attr, true
}
