package fill

// Merge reconciles a newly received fill plan with a previously cached one.
// Incoming instructions overwrite existing ones with the same selector, in
// place; instructions only in existing are preserved; instructions only in
// incoming are appended. A form whose visible fields change across refocuses
// therefore accumulates a superset of known mappings instead of losing
// earlier knowledge.
func Merge(existing, incoming []Instruction) []Instruction {
	if len(existing) == 0 {
		return append([]Instruction(nil), incoming...)
	}

	merged := append([]Instruction(nil), existing...)
	index := make(map[string]int, len(merged))
	for i, in := range merged {
		index[in.Selector] = i
	}

	for _, in := range incoming {
		if i, ok := index[in.Selector]; ok {
			merged[i] = in
			continue
		}
		index[in.Selector] = len(merged)
		merged = append(merged, in)
	}
	return merged
}
