package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tablecast/internal/domain"

	"github.com/google/uuid"
)

type ticketRequest struct {
	Room      string `json:"room"`
	RequestID string `json:"requestId"`
	Client    string `json:"client"`
	Version   string `json:"version"`
}

type ticketResponse struct {
	Result int               `json:"result"`
	Msg    string            `json:"msg"`
	Data   domain.RoomTicket `json:"data"`
}

// Client fetches room tickets from a table service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a ticket client for the given table service endpoint.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchTicket asks the table service for the signaling endpoint and ICE
// servers to use for a room.
func (c *Client) FetchTicket(room string) (*domain.RoomTicket, error) {
	req := ticketRequest{
		Room:      room,
		RequestID: uuid.NewString(),
		Client:    "tablecast",
		Version:   "0.1.0",
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket request: %w", err)
	}

	httpReq, err := http.NewRequest("POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var ticketResp ticketResponse
	if err := json.Unmarshal(respBody, &ticketResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if ticketResp.Result != 0 {
		return nil, fmt.Errorf("table service error (result=%d): %s", ticketResp.Result, ticketResp.Msg)
	}

	return &ticketResp.Data, nil
}
