package persist

// Abandon releases the store's files without a final checkpoint, leaving
// the directory as a crash would.
func Abandon(s *Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.closed = true
	return s.closeFiles()
}

// WriteSnapshot writes a snapshot that claims to cover journal segments up
// to sealed, without touching the journal.
func WriteSnapshot(s *Store, sealed uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writeSnapshot(sealed)
	return err
}
