// Package agent owns the live multimodal agent session: the websocket
// transport, the playback scheduler for the agent's streamed voice, and the
// tool registry that lets the agent drive the shared game state.
package agent

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"tablecast/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	inputAudioMime = "audio/pcm;rate=16000"
	imageMime      = "image/jpeg"
)

// clientMessage is the outbound protocol envelope. Exactly one field is set
// per message.
type clientMessage struct {
	Setup         *setupPayload  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *toolResponse  `json:"toolResponse,omitempty"`
}

type setupPayload struct {
	Model             string            `json:"model"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Tools             []toolDecl        `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type toolDecl struct {
	FunctionDeclarations []functionDecl `json:"functionDeclarations"`
}

type functionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// serverMessage is the inbound protocol envelope.
type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	ToolCall      *toolCallMsg   `json:"toolCall,omitempty"`
	GoAway        *struct{}      `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn    *content `json:"modelTurn,omitempty"`
	Interrupted  bool     `json:"interrupted,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

const systemPrompt = "You are the table assistant for a multiplayer card " +
	"game session. You can see the table through the video feed and hear " +
	"the players. Track the game state with the provided tools as players " +
	"announce plays, life changes, and phase transitions. Keep spoken " +
	"replies short."

// Transport is the websocket connection to the live agent. It sends media
// and tool responses, and dispatches inbound events to a domain.AgentHandler.
type Transport struct {
	handler domain.AgentHandler

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the agent endpoint, sends the session setup, and starts
// the read loop. The key is appended as a query parameter.
func Dial(url, key, model string, handler domain.AgentHandler) (*Transport, error) {
	t := &Transport{
		handler: handler,
		closed:  make(chan struct{}),
	}

	log.Printf("[agent] connecting to %s", url)
	conn, _, err := websocket.DefaultDialer.Dial(url+"?key="+key, nil)
	if err != nil {
		return nil, fmt.Errorf("agent dial: %w", err)
	}
	t.conn = conn

	setup := clientMessage{Setup: &setupPayload{
		Model:             model,
		GenerationConfig:  &generationConfig{ResponseModalities: []string{"AUDIO"}},
		SystemInstruction: &content{Parts: []part{{Text: systemPrompt}}},
		Tools:             []toolDecl{{FunctionDeclarations: declarations()}},
	}}
	if err := t.sendJSON(setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("agent setup: %w", err)
	}

	go t.readLoop()
	return t, nil
}

// SendAudio forwards one 16 kHz PCM16 frame to the agent.
func (t *Transport) SendAudio(pcm []byte) error {
	return t.sendJSON(clientMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []inlineData{{
			MimeType: inputAudioMime,
			Data:     base64.StdEncoding.EncodeToString(pcm),
		}},
	}})
}

// SendImage forwards one composite JPEG frame to the agent.
func (t *Transport) SendImage(jpeg []byte) error {
	return t.sendJSON(clientMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []inlineData{{
			MimeType: imageMime,
			Data:     base64.StdEncoding.EncodeToString(jpeg),
		}},
	}})
}

// SendToolResponse answers one tool call, correlated by id.
func (t *Transport) SendToolResponse(callID, name string, result map[string]any) error {
	return t.sendJSON(clientMessage{ToolResponse: &toolResponse{
		FunctionResponses: []functionResponse{{
			ID:       callID,
			Name:     name,
			Response: result,
		}},
	}})
}

// Close shuts down the websocket. Safe to call more than once.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.conn != nil {
			t.conn.Close()
		}
	})
}

func (t *Transport) sendJSON(msg clientMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return errors.New("agent transport not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("agent marshal: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("agent write: %w", err)
	}
	return nil
}

func (t *Transport) readLoop() {
	defer t.Close()

	for {
		select {
		case <-t.closed:
			return
		default:
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.closed:
				t.handler.OnClosed(nil)
			default:
				log.Printf("[agent] read error: %v", err)
				t.handler.OnClosed(err)
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[agent] unmarshal error: %v", err)
			continue
		}

		t.dispatch(msg)
	}
}

func (t *Transport) dispatch(msg serverMessage) {
	switch {
	case msg.SetupComplete != nil:
		log.Printf("[agent] session ready")
		t.handler.OnReady()

	case msg.ServerContent != nil:
		t.dispatchContent(msg.ServerContent)

	case msg.ToolCall != nil:
		for _, call := range msg.ToolCall.FunctionCalls {
			t.handler.OnToolCall(call.ID, call.Name, call.Args)
		}

	case msg.GoAway != nil:
		log.Printf("[agent] server is closing the session")

	default:
		log.Printf("[agent] unhandled server message")
	}
}

func (t *Transport) dispatchContent(sc *serverContent) {
	if sc.Interrupted {
		t.handler.OnInterrupted()
		return
	}
	if sc.ModelTurn == nil {
		return
	}
	for _, p := range sc.ModelTurn.Parts {
		if p.InlineData == nil {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			log.Printf("[agent] decode audio chunk: %v", err)
			continue
		}
		t.handler.OnAudioChunk(pcm)
	}
}
