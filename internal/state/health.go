package state

// IsAvailable reports whether the endpoint's failure count is below the threshold.
// Unknown endpoints are treated as healthy.
func (s *State) IsAvailable(endpoint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failures[endpoint] < s.threshold
}

// RecordFailure increments the endpoint's failure count.
func (s *State) RecordFailure(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[endpoint]++
}

// RecordSuccess lowers the endpoint's failure count by one, never below zero.
func (s *State) RecordSuccess(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures[endpoint] > 0 {
		s.failures[endpoint]--
	}
}

// ListAvailable returns the configured endpoints that are currently selectable,
// in configuration order.
func (s *State) ListAvailable() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	available := make([]string, 0, len(s.endpoints))

	for _, ep := range s.endpoints {
		if s.failures[ep] < s.threshold {
			available = append(available, ep)
		}
	}

	return available
}

// DecayAll lowers every endpoint's failure count by one, floored at zero.
func (s *State) DecayAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decayLocked()
}

// DecayIfExhausted runs a decay pass only while no endpoint is selectable, and
// reports whether it did. Workers waking together decay the pool once.
func (s *State) DecayIfExhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ep := range s.endpoints {
		if s.failures[ep] < s.threshold {
			return false
		}
	}

	s.decayLocked()

	return true
}

func (s *State) decayLocked() {
	for ep, n := range s.failures {
		if n > 0 {
			s.failures[ep] = n - 1
		}
	}
}

// Failures returns the current failure count of an endpoint.
func (s *State) Failures(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failures[endpoint]
}

// EndpointCount is the size of the configured pool.
func (s *State) EndpointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.endpoints)
}
