/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package draw

// SpansGroups reports whether people belong to at least two groups. With a
// single group no pairing can exist.
func SpansGroups(people []Person) bool {
	if len(people) == 0 {
		return false
	}

	first := people[0].GroupID
	for _, p := range people[1:] {
		if p.GroupID != first {
			return true
		}
	}

	return false
}

// Feasible reports whether a complete pairing exists. Givers of one group
// can only draw from outside it, so by Hall's theorem a pairing exists iff
// no group holds more than half of everyone.
func Feasible(people []Person) bool {
	n := len(people)
	if n < 2 {
		return false
	}

	sizes := make(map[string]int)
	for _, p := range people {
		sizes[p.GroupID]++
		if 2*sizes[p.GroupID] > n {
			return false
		}
	}

	return true
}
