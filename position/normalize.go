package position

import "sort"

// Item is anything with an identity and an ordering key.
type Item struct {
	ID       string
	Position float64
}

// Normalize re-spaces items to 1, 2, 3, ... keeping their current order.
// Ties keep input order. Only items whose key changes are returned.
func Normalize(items []Item) []Item {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	changed := make([]Item, 0, len(sorted))
	for i := range sorted {
		want := float64(i + 1)
		if sorted[i].Position != want {
			changed = append(changed, Item{ID: sorted[i].ID, Position: want})
		}
	}
	return changed
}
