package state

// Counters are the run totals. They only ever grow.
type Counters struct {
	Stored     int64 `json:"stored"`
	Duplicates int64 `json:"duplicates"`
	Errors     int64 `json:"errors"`
	Bytes      int64 `json:"bytes"`
}

// AddDuplicate counts a download suppressed by dedup.
func (s *State) AddDuplicate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.Duplicates++
}

// AddError counts a failed download attempt.
func (s *State) AddError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.Errors++
}

// Counters returns a copy of the current totals.
func (s *State) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counters
}

// LimitReached reports whether the configured max-downloads has been hit.
func (s *State) LimitReached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.maxDownloads > 0 && s.counters.Stored >= int64(s.maxDownloads)
}
