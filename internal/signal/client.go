package signal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"tablecast/internal/domain"

	"github.com/gorilla/websocket"
)

// message is the generic rendezvous message envelope.
type message struct {
	Method  string `json:"method"`
	Code    *int   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Payload string `json:"payload,omitempty"`
}

const defaultPingInterval = 25 * time.Second

// Client manages the WebSocket connection to the rendezvous server. It
// relays SDP offers/answers and ICE candidates between peers addressed by
// their claimed identities.
type Client struct {
	url          string
	handler      domain.SignalHandler
	pingInterval time.Duration

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient creates a rendezvous client.
func NewClient(url string, handler domain.SignalHandler) *Client {
	return &Client{
		url:          url,
		handler:      handler,
		pingInterval: defaultPingInterval,
		closed:       make(chan struct{}),
	}
}

// Connect dials the rendezvous WebSocket and starts the read loop.
func (c *Client) Connect() error {
	log.Printf("[signal] connecting to %s", c.url)

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	go c.pingLoop()

	return nil
}

// Close shuts down the WebSocket connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) sendJSON(msg message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[signal] marshal error: %v", err)
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[signal] write error: %v", err)
	}
}

// Claim asks the server to register the given identity for this connection.
// The result arrives asynchronously via OnClaimResult.
func (c *Client) Claim(desiredID string) {
	c.sendJSON(message{Method: "CLAIM", ID: desiredID})
}

// SendOffer relays an SDP offer to the named peer.
func (c *Client) SendOffer(to string, sdp domain.SDPPayload) {
	c.relay(to, domain.RelayOffer, sdp)
}

// SendAnswer relays an SDP answer to the named peer.
func (c *Client) SendAnswer(to string, sdp domain.SDPPayload) {
	c.relay(to, domain.RelayAnswer, sdp)
}

// SendCandidate relays a local ICE candidate to the named peer.
func (c *Client) SendCandidate(to string, candidate domain.ICECandidatePayload) {
	c.relay(to, domain.RelayCandidate, candidate)
}

func (c *Client) relay(to, kind string, payload any) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[signal] marshal %s payload: %v", kind, err)
		return
	}
	c.sendJSON(message{
		Method:  "RELAY",
		To:      to,
		Kind:    kind,
		Payload: base64.StdEncoding.EncodeToString(payloadJSON),
	})
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		select {
		case <-c.closed:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
				log.Printf("[signal] read error: %v", err)
				return
			}
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[signal] unmarshal error: %v", err)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg message) {
	switch msg.Method {
	case "CLAIM_RESULT":
		taken := msg.Code != nil && *msg.Code != 0
		if taken {
			log.Printf("[signal] identity %s taken: %s", msg.ID, msg.Message)
		} else {
			log.Printf("[signal] identity %s claimed", msg.ID)
		}
		c.handler.OnClaimResult(msg.ID, taken)

	case "RELAY":
		c.dispatchRelay(msg)

	case "PEER_OUT":
		log.Printf("[signal] peer out: %s", msg.ID)
		c.handler.OnPeerOut(msg.ID)

	case "RESPONSE":
		// no-op

	default:
		log.Printf("[signal] unhandled method: %s", msg.Method)
	}
}

func (c *Client) dispatchRelay(msg message) {
	decoded, err := base64.StdEncoding.DecodeString(msg.Payload)
	if err != nil {
		log.Printf("[signal] decode %s payload: %v", msg.Kind, err)
		return
	}

	switch msg.Kind {
	case domain.RelayOffer, domain.RelayAnswer:
		var sdp domain.SDPPayload
		if err := json.Unmarshal(decoded, &sdp); err != nil {
			log.Printf("[signal] unmarshal %s: %v", msg.Kind, err)
			return
		}
		if msg.Kind == domain.RelayOffer {
			c.handler.OnRemoteOffer(msg.From, sdp)
		} else {
			c.handler.OnRemoteAnswer(msg.From, sdp)
		}

	case domain.RelayCandidate:
		var candidate domain.ICECandidatePayload
		if err := json.Unmarshal(decoded, &candidate); err != nil {
			log.Printf("[signal] unmarshal candidate: %v", err)
			return
		}
		c.handler.OnRemoteCandidate(msg.From, candidate)

	default:
		log.Printf("[signal] unhandled relay kind: %s", msg.Kind)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
					return
				default:
					log.Printf("[signal] ping error: %v", err)
					return
				}
			}
		}
	}
}
