package domain

// RoomTicket holds the rendezvous endpoint and ICE server configuration a
// table service hands out for a room. When no table service is configured
// the client falls back to public STUN.
type RoomTicket struct {
	Room         string      `json:"room"`
	SignalServer string      `json:"signalServer"`
	ICEServers   []ICEServer `json:"iceServers"`
	PingInterval int         `json:"pingIntervalSeconds"`
	ExpiresAt    int64       `json:"expiresAt"`
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Credential string `json:"credential"`
}
