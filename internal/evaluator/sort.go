package evaluator

import (
	"cmp"
	"slices"
	"time"

	"curator/internal/collection"
	"curator/internal/textutil"
)

// sortItems orders items in place. Native keeps the resolved order. Missing
// values sort last regardless of direction; ties break by media id and then
// title so repeated materializations are stable.
func sortItems(items []Item, key collection.SortKey, order collection.SortOrder) {
	if key == collection.SortNative || key == "" {
		return
	}
	desc := order == collection.SortDesc
	slices.SortStableFunc(items, func(a, b Item) int {
		if c := comparePrimary(a, b, key, desc); c != 0 {
			return c
		}
		if c := cmp.Compare(a.MediaID, b.MediaID); c != 0 {
			return c
		}
		return cmp.Compare(textutil.SortTitle(a.Title), textutil.SortTitle(b.Title))
	})
}

func comparePrimary(a, b Item, key collection.SortKey, desc bool) int {
	switch key {
	case collection.SortTitle:
		return directed(cmp.Compare(textutil.SortTitle(a.Title), textutil.SortTitle(b.Title)), desc)
	case collection.SortYear:
		return compareOptional(a.Year, a.Year > 0, b.Year, b.Year > 0, desc)
	case collection.SortRating:
		return compareOptional(a.Rating, a.Rating > 0 || a.VoteCount > 0, b.Rating, b.Rating > 0 || b.VoteCount > 0, desc)
	case collection.SortPopularity:
		return compareOptional(a.Popularity, a.Popularity > 0, b.Popularity, b.Popularity > 0, desc)
	case collection.SortReleaseDate:
		return compareTimes(a.ReleaseDate, b.ReleaseDate, desc)
	case collection.SortAdded:
		return compareTimes(a.FirstRequestedAt, b.FirstRequestedAt, desc)
	default:
		return 0
	}
}

func compareOptional[T cmp.Ordered](a T, aok bool, b T, bok bool, desc bool) int {
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	return directed(cmp.Compare(a, b), desc)
}

func compareTimes(a, b *time.Time, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return directed(a.Compare(*b), desc)
}

func directed(c int, desc bool) int {
	if desc {
		return -c
	}
	return c
}
