package daemon

import "github.com/marcin-skalski/prwatch/internal/pr"

// Arrange returns items in publication order: review-requested first, then
// authored. With settledLast, each group is stably partitioned so items
// needing attention come before the rest.
func Arrange(items []pr.Item, settledLast bool) []pr.Item {
	var review, authored []pr.Item
	for _, it := range items {
		if it.Category == pr.CategoryReviewRequested {
			review = append(review, it)
		} else {
			authored = append(authored, it)
		}
	}
	if settledLast {
		review = partition(review)
		authored = partition(authored)
	}
	out := make([]pr.Item, 0, len(items))
	out = append(out, review...)
	return append(out, authored...)
}

func partition(items []pr.Item) []pr.Item {
	out := make([]pr.Item, 0, len(items))
	for _, it := range items {
		if it.Status.NeedsAttention() {
			out = append(out, it)
		}
	}
	for _, it := range items {
		if !it.Status.NeedsAttention() {
			out = append(out, it)
		}
	}
	return out
}
