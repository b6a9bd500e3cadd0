package project

import "sort"

// reaches reports whether to is from or is nested somewhere below from.
func (p *Project) reaches(from, to CompositionID) bool {
	seen := make(map[CompositionID]bool)
	var walk func(id CompositionID) bool
	walk = func(id CompositionID) bool {
		if id == to {
			return true
		}
		if seen[id] {
			return false
		}
		seen[id] = true
		c, ok := p.comps[id]
		if !ok {
			return false
		}
		for child := range c.children {
			if walk(child) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// Ancestors returns every composition that nests id directly or
// indirectly, nearest first.
func (p *Project) Ancestors(id CompositionID) []CompositionID {
	var out []CompositionID
	seen := map[CompositionID]bool{id: true}
	queue := []CompositionID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		level := make([]CompositionID, 0, len(p.parents[cur]))
		for parent := range p.parents[cur] {
			if !seen[parent] {
				seen[parent] = true
				level = append(level, parent)
			}
		}
		sort.Slice(level, func(i, j int) bool { return level[i].String() < level[j].String() })
		out = append(out, level...)
		queue = append(queue, level...)
	}
	return out
}
