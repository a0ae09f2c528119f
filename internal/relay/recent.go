package relay

// RecentSet is a bounded set of transport-level event keys, used only to
// suppress duplicate processing of the exact same transport event (webhook
// retries, poll replays). Membership means "already acted upon"; it says
// nothing about content uniqueness. Oldest entries are evicted first.
// Not safe for concurrent use; the owning binding serializes access.
type RecentSet struct {
	cap     int
	order   []string
	members map[string]struct{}
}

// NewRecentSet creates a set bounded at cap entries.
func NewRecentSet(cap int) *RecentSet {
	if cap <= 0 {
		cap = 1000
	}
	return &RecentSet{
		cap:     cap,
		members: map[string]struct{}{},
	}
}

// Contains reports whether key was recorded and not yet evicted.
func (s *RecentSet) Contains(key string) bool {
	_, ok := s.members[key]
	return ok
}

// Add records key, evicting the oldest entry when the cap is reached.
func (s *RecentSet) Add(key string) {
	if s.Contains(key) {
		return
	}
	for len(s.order) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.members, oldest)
	}
	s.order = append(s.order, key)
	s.members[key] = struct{}{}
}

// Len returns the current number of entries.
func (s *RecentSet) Len() int {
	return len(s.order)
}

// Prune drops the oldest entries until at most keep remain.
func (s *RecentSet) Prune(keep int) {
	if keep < 0 {
		keep = 0
	}
	for len(s.order) > keep {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.members, oldest)
	}
}
