package newsdoc

import "sort"

// Grouped is a set of blocks keyed by block type. Order is preserved
// within each type; Order records the first-appearance order of types.
type Grouped struct {
	Order  []string
	Blocks map[string][]Block
}

// Group splits blocks into per-type arrays without reordering blocks of
// the same type.
func Group(blocks []Block) Grouped {
	grouped := Grouped{Blocks: make(map[string][]Block)}
	for _, block := range blocks {
		if _, ok := grouped.Blocks[block.Type]; !ok {
			grouped.Order = append(grouped.Order, block.Type)
		}
		grouped.Blocks[block.Type] = append(grouped.Blocks[block.Type], block)
	}
	return grouped
}

// Ungroup flattens grouped blocks, emitting types in Order and then any
// type missing from Order.
func Ungroup(grouped Grouped) []Block {
	var out []Block
	seen := make(map[string]bool, len(grouped.Order))
	for _, blockType := range grouped.Order {
		if seen[blockType] {
			continue
		}
		seen[blockType] = true
		out = append(out, grouped.Blocks[blockType]...)
	}
	for _, blockType := range sortedKeys(grouped.Blocks) {
		if !seen[blockType] {
			out = append(out, grouped.Blocks[blockType]...)
		}
	}
	return out
}

func sortedKeys(m map[string][]Block) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
