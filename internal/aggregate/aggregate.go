package aggregate

// Aggregate merges ranked lists into one ordered candidate sequence.
//
// Lists are walked in input order and each contributes at most its own
// Limit new items, or limit when the list has none, or everything when
// neither is set. A candidate whose key was already emitted by an earlier
// list (or earlier in the same list) is dropped and does not count against
// the list's limit. The result is deterministic for identical input, and a
// single list without a limit is returned in its original order.
func Aggregate(lists []RankedList, limit *int) []Candidate {
	total := 0
	for _, list := range lists {
		total += takeCount(list, limit)
	}
	out := make([]Candidate, 0, total)
	seen := make(map[Key]struct{}, total)
	for _, list := range lists {
		take := takeCount(list, limit)
		taken := 0
		for i, c := range list.Items {
			if taken >= take {
				break
			}
			key := c.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if c.SourceID == "" {
				c.SourceID = list.SourceID
			}
			if c.Rank == 0 {
				c.Rank = i + 1
			}
			out = append(out, c)
			taken++
		}
	}
	return out
}

func takeCount(list RankedList, limit *int) int {
	n := len(list.Items)
	effective := list.Limit
	if effective == nil {
		effective = limit
	}
	if effective == nil {
		return n
	}
	return max(0, min(*effective, n))
}

// NativeOrderValid reports whether aggregating specs preserves a single
// source's own ordering.
func NativeOrderValid(specs []SourceSpec, limit *int) bool {
	return len(specs) == 1 && specs[0].Limit == nil && limit == nil
}
