package types

// RatchetHeader is sent alongside every sealed frame.
type RatchetHeader struct {
	DiffieHellmanPublicKey []byte `json:"dh_pub"`
	PreviousChainLength    uint32 `json:"pn"`
	MessageIndex           uint32 `json:"n"`
}

// PeerSession is the per-peer ratchet state. It is mutated only by the
// ratchet package and only by one goroutine at a time.
type PeerSession struct {
	Peer                    JID               `json:"peer"`
	PeerIdentity            X25519Public      `json:"peer_identity"`
	RootKey                 []byte            `json:"root_key"`
	DiffieHellmanPrivate    X25519Private     `json:"dh_priv"`
	DiffieHellmanPublic     X25519Public      `json:"dh_pub"`
	PeerDiffieHellmanPublic X25519Public      `json:"peer_dh_pub"`
	SendChainKey            []byte            `json:"send_ck,omitempty"`
	ReceiveChainKey         []byte            `json:"recv_ck,omitempty"`
	SendMessageIndex        uint32            `json:"ns"`
	ReceiveMessageIndex     uint32            `json:"nr"`
	PreviousChainLength     uint32            `json:"pn"`
	SkippedKeys             map[string][]byte `json:"skipped_keys"`
	CreatedUTC              int64             `json:"created_utc"`
}

// Clone returns a deep copy of s.
func (s PeerSession) Clone() PeerSession {
	out := s
	out.RootKey = cloneBytes(s.RootKey)
	out.SendChainKey = cloneBytes(s.SendChainKey)
	out.ReceiveChainKey = cloneBytes(s.ReceiveChainKey)
	out.SkippedKeys = make(map[string][]byte, len(s.SkippedKeys))
	for k, v := range s.SkippedKeys {
		out.SkippedKeys[k] = cloneBytes(v)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
