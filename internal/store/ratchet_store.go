package store

import "wabridge/internal/domain"

// SaveSession writes the ratchet state for peer into the stored record. It
// starts from the record this store last read or wrote, so a sealed store
// does not unseal the file again on every frame.
func (s *FileStore) SaveSession(peer domain.JID, sess domain.PeerSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return ErrClosed
	}

	rec, err := s.cached()
	if err != nil {
		return err
	}
	sess.Peer = peer
	rec.Sessions[peer] = sess
	return s.save(rec)
}
