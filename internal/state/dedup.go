package state

import "github.com/italolelis/media_fetcher/internal/history"

// SeenURL reports whether url was already stored by this or a previous run.
func (s *State) SeenURL(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.urls[url]

	return ok
}

// SeenHash reports whether a file with this content hash was already stored.
func (s *State) SeenHash(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.hashes[hash]

	return ok
}

// Commit records a stored download. If the hash is already known the call
// counts a duplicate instead and returns false; the caller owns removing the file.
// Check and insert happen under one lock, so concurrent workers cannot both
// commit the same content.
func (s *State) Commit(url, hash string, size int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hashes[hash]; ok {
		s.counters.Duplicates++

		return false
	}

	s.addHashLocked(hash)
	s.addURLLocked(url)

	s.counters.Stored++
	s.counters.Bytes += size

	return true
}

// Snapshot copies the dedup sets in insertion order.
func (s *State) Snapshot() history.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return history.Snapshot{
		Hashes: append([]string{}, s.hashOrder...),
		URLs:   append([]string{}, s.urlOrder...),
	}
}

func (s *State) addHashLocked(h string) {
	if _, ok := s.hashes[h]; ok {
		return
	}

	s.hashes[h] = struct{}{}
	s.hashOrder = append(s.hashOrder, h)
}

func (s *State) addURLLocked(u string) {
	if _, ok := s.urls[u]; ok {
		return
	}

	s.urls[u] = struct{}{}
	s.urlOrder = append(s.urlOrder, u)
}
