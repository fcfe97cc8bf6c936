package session

// toggleMember flips memberID's membership and returns the full
// resulting set. The authority's update contract is "set, not patch",
// so callers always send the complete list.
func toggleMember(set []string, memberID string) []string {
	for i, id := range set {
		if id == memberID {
			out := make([]string, 0, len(set)-1)
			out = append(out, set[:i]...)
			return append(out, set[i+1:]...)
		}
	}
	out := make([]string, 0, len(set)+1)
	out = append(out, set...)
	return append(out, memberID)
}
