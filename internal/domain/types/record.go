package types

// SessionRecordVersion is the current persisted record layout.
const SessionRecordVersion = 1

// SessionRecord is everything the store persists for a paired device.
type SessionRecord struct {
	Version     int                 `json:"version"`
	Identity    Identity            `json:"identity"`
	ClientID    ClientID            `json:"client_id"`
	JID         JID                 `json:"jid"`
	ServerToken string              `json:"server_token"`
	ClientToken string              `json:"client_token"`
	EncKey      []byte              `json:"enc_key"`
	MacKey      []byte              `json:"mac_key"`
	Sessions    map[JID]PeerSession `json:"sessions"`
	PairedUTC   int64               `json:"paired_utc"`
}

// Paired reports whether the record carries a usable relay session.
func (r SessionRecord) Paired() bool {
	return r.ClientID != "" && r.ServerToken != "" && len(r.MacKey) > 0 &&
		len(r.Sessions) > 0
}
