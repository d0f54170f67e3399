package feed

import "sort"

// Page is one page of a personalized feed.
type Page struct {
	IDs     []string `json:"ids"`
	Total   int      `json:"total"`
	HasMore bool     `json:"has_more"`
}

// Order returns a copy of scored sorted by score descending. Equal scores are
// ordered by candidate ID ascending so pagination is stable across calls on
// an unchanged snapshot.
func Order(scored []ScoredCandidate) []ScoredCandidate {
	ordered := make([]ScoredCandidate, len(scored))
	copy(ordered, scored)

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

// Select orders scored candidates and returns the page [offset, offset+limit).
// An empty set, limit <= 0 or offset >= total yields an empty page, never an
// error. A negative offset is treated as 0.
func Select(scored []ScoredCandidate, limit, offset int) Page {
	ordered := Order(scored)
	ids := make([]string, len(ordered))
	for i, c := range ordered {
		ids[i] = c.ID
	}
	return paginate(ids, limit, offset)
}

// pageBounds clamps [offset, offset+limit) to [0, total].
func pageBounds(total, limit, offset int) (start, end int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= total {
		return total, total
	}
	end = offset + limit
	if end > total || end < offset {
		end = total
	}
	return offset, end
}

// paginate slices an already ordered ID list.
func paginate(ordered []string, limit, offset int) Page {
	total := len(ordered)
	start, end := pageBounds(total, limit, offset)

	ids := make([]string, end-start)
	copy(ids, ordered[start:end])

	return Page{
		IDs:     ids,
		Total:   total,
		HasMore: end < total && start < end,
	}
}
