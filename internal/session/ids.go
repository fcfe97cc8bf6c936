package session

import (
	"fmt"
	"strings"
)

// localIDAllocator hands out monotonic session-scoped ids for items
// created optimistically before the authority assigns a real id.
type localIDAllocator struct {
	next uint64
}

func (a *localIDAllocator) Next() string {
	a.next++
	return fmt.Sprintf("local-%d", a.next)
}

// IsLocalID reports whether id was minted by this session rather than
// the authority.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, "local-")
}
