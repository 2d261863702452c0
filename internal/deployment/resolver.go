package deployment

import (
	"github.com/smelter-dev/smelter/internal/config"
)

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

// Resolve orders specs so every $name reference comes before the spec that
// uses it. Specs that take part in the reference graph come first in DFS
// post-order, visiting specs in manifest order and references in argument
// order; specs with no references in or out follow in manifest order.
func Resolve(specs []config.ContractSpec) ([]config.ContractSpec, error) {
	index := make(map[string]int, len(specs))
	for i, spec := range specs {
		if _, dup := index[spec.Name]; !dup {
			index[spec.Name] = i
		}
	}

	inGraph := make([]bool, len(specs))
	for i, spec := range specs {
		for _, ref := range spec.References() {
			j, ok := index[ref]
			if !ok {
				return nil, missingReference(ref)
			}
			inGraph[i] = true
			inGraph[j] = true
		}
	}

	state := make([]visitState, len(specs))
	ordered := make([]config.ContractSpec, 0, len(specs))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visited:
			return nil
		case visiting:
			return cyclicDependency(specs[i].Name)
		}
		state[i] = visiting
		for _, ref := range specs[i].References() {
			if err := visit(index[ref]); err != nil {
				return err
			}
		}
		state[i] = visited
		ordered = append(ordered, specs[i])
		return nil
	}

	for i := range specs {
		if !inGraph[i] {
			continue
		}
		if err := visit(i); err != nil {
			return nil, err
		}
	}

	for i, spec := range specs {
		if !inGraph[i] {
			ordered = append(ordered, spec)
		}
	}

	return ordered, nil
}

// Levels groups resolved specs into antichains: no spec in a level
// references another spec in the same or a later level. Specs with no
// references land in level 0.
func Levels(specs []config.ContractSpec) ([][]config.ContractSpec, error) {
	ordered, err := Resolve(specs)
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(ordered))
	var levels [][]config.ContractSpec
	for _, spec := range ordered {
		l := 0
		for _, ref := range spec.References() {
			if rl := level[ref] + 1; rl > l {
				l = rl
			}
		}
		level[spec.Name] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], spec)
	}

	return levels, nil
}
