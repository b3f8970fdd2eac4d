package mission

import "fmt"

// ValidateOutline enforces the structural invariants spec §3/§4.4.1 name:
// unique section IDs, an acyclic dependency graph, and depth within
// maxDepth. Grounded on the teacher's git.go commit-DAG walk, generalized
// from commit ancestry to outline section dependencies.
func ValidateOutline(o *Outline, maxDepth int) error {
	seen := make(map[string]bool)
	var dupErr error
	var maxSeenDepth int
	var walk func(secs []*Section, depth int)
	walk = func(secs []*Section, depth int) {
		for _, s := range secs {
			if depth > maxSeenDepth {
				maxSeenDepth = depth
			}
			if seen[s.SectionID] {
				dupErr = fmt.Errorf("outline: duplicate section_id %q", s.SectionID)
			}
			seen[s.SectionID] = true
			walk(s.Subsections, depth+1)
		}
	}
	walk(o.Sections, 1)
	if dupErr != nil {
		return dupErr
	}
	if maxDepth > 0 && maxSeenDepth > maxDepth {
		return fmt.Errorf("outline: depth %d exceeds max_total_depth %d", maxSeenDepth, maxDepth)
	}

	allIDs := make(map[string]bool, len(seen))
	for id := range seen {
		allIDs[id] = true
	}
	var depErr error
	o.Walk(func(s *Section) {
		for _, dep := range s.DependsOnSteps {
			if !allIDs[dep] {
				depErr = fmt.Errorf("outline: section %q depends on unknown section %q", s.SectionID, dep)
			}
		}
	})
	if depErr != nil {
		return depErr
	}

	if _, err := TopoSort(o); err != nil {
		return err
	}
	return nil
}

// TopoSort returns every section in dependency-topological order (spec
// §4.4.4: "Writer visits sections in a topological order of dependencies"),
// using Kahn's algorithm -- the same shape the teacher uses to walk commit
// ancestry in git.go, generalized from parent-commit edges to
// DependsOnSteps edges.
func TopoSort(o *Outline) ([]*Section, error) {
	var all []*Section
	byID := make(map[string]*Section)
	o.Walk(func(s *Section) {
		all = append(all, s)
		byID[s.SectionID] = s
	})

	indegree := make(map[string]int, len(all))
	dependents := make(map[string][]string, len(all))
	for _, s := range all {
		indegree[s.SectionID] = len(s.DependsOnSteps)
		for _, dep := range s.DependsOnSteps {
			dependents[dep] = append(dependents[dep], s.SectionID)
		}
	}

	var queue []string
	for _, s := range all {
		if indegree[s.SectionID] == 0 {
			queue = append(queue, s.SectionID)
		}
	}

	var order []*Section
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, byID[id])
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(all) {
		return nil, fmt.Errorf("outline: dependency graph is cyclic")
	}
	return order, nil
}
