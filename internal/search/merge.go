package search

// MergeIDs combines ranked id lists for one kind. Vector lists come first in
// the order given, keeping the first occurrence of each id; lexical ids not
// already present follow. The result is cut to limit.
func MergeIDs(vectorLists [][]int64, lexical []int64, limit int) []int64 {
	if limit <= 0 {
		return nil
	}
	seen := make(map[int64]bool)
	out := make([]int64, 0, limit)

	add := func(ids []int64) bool {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
			if len(out) == limit {
				return true
			}
		}
		return false
	}

	for _, list := range vectorLists {
		if add(list) {
			return out
		}
	}
	add(lexical)
	return out
}
