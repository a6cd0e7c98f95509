package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Roles a device can take at the table.
const (
	RoleHost = "host"
	RoleJoin = "join"
)

// Config holds the application configuration.
type Config struct {
	// Role is "host" (claims the room identity, accepts spokes) or "join".
	Role string
	// Room is the human-relayed table code. Required when joining;
	// generated when hosting if empty.
	Room string
	// SignalURL is the rendezvous WebSocket endpoint.
	SignalURL string
	// TicketURL, when set, is an HTTP endpoint that hands out ICE servers
	// and the signaling endpoint for a room.
	TicketURL string
	// Name is the local display name announced to the table.
	Name string
	// Cameras are snapshot URLs of local table cameras, in priority order.
	Cameras []string

	// AgentKey is the live-agent credential. Empty is allowed: the agent
	// session then refuses to connect but everything else still works.
	AgentKey   string
	AgentURL   string
	AgentModel string
}

// Defaults applied when the corresponding variable is unset.
const (
	defaultSignalURL  = "wss://signal.tablecast.dev/ws"
	defaultAgentURL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultAgentModel = "models/gemini-2.0-flash-live-001"
)

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		Role:       strings.ToLower(getenv("TABLECAST_ROLE", RoleHost)),
		Room:       os.Getenv("TABLECAST_ROOM"),
		SignalURL:  getenv("TABLECAST_SIGNAL_URL", defaultSignalURL),
		TicketURL:  os.Getenv("TABLECAST_TICKET_URL"),
		Name:       getenv("TABLECAST_NAME", "table"),
		AgentKey:   os.Getenv("TABLECAST_AGENT_KEY"),
		AgentURL:   getenv("TABLECAST_AGENT_URL", defaultAgentURL),
		AgentModel: getenv("TABLECAST_AGENT_MODEL", defaultAgentModel),
	}

	if cams := os.Getenv("TABLECAST_CAMERAS"); cams != "" {
		for _, c := range strings.Split(cams, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cfg.Cameras = append(cfg.Cameras, c)
			}
		}
	}

	switch cfg.Role {
	case RoleHost, RoleJoin:
	default:
		return nil, fmt.Errorf("TABLECAST_ROLE must be %q or %q, got %q", RoleHost, RoleJoin, cfg.Role)
	}

	if cfg.Role == RoleJoin && cfg.Room == "" {
		return nil, fmt.Errorf("TABLECAST_ROOM environment variable is required when joining")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
