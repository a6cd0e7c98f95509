package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"tablecast/internal/agent"
	"tablecast/internal/api"
	"tablecast/internal/config"
	"tablecast/internal/domain"
	"tablecast/internal/mesh"
	"tablecast/internal/mixer"
	"tablecast/internal/session"
	sigclient "tablecast/internal/signal"
	"tablecast/internal/state"
	"tablecast/internal/storage"
)

const helpText = `tablecast - Shared table session with a live voice agent

Usage:
  tablecast [options]

The microphone is read as raw PCM16 mono 16 kHz from stdin; the agent's
voice is written as raw PCM16 mono 24 kHz to stdout. Pipe accordingly.

Environment Variables:
  TABLECAST_ROLE        host (default) or join
  TABLECAST_ROOM        room code; required when joining, generated when hosting
  TABLECAST_SIGNAL_URL  rendezvous WebSocket endpoint
  TABLECAST_TICKET_URL  optional table service handing out ICE servers
  TABLECAST_NAME        local display name
  TABLECAST_CAMERAS     comma-separated camera snapshot URLs
  TABLECAST_AGENT_KEY   live-agent credential; without it the agent stays off
  TABLECAST_AGENT_URL   live-agent endpoint
  TABLECAST_AGENT_MODEL live-agent model name

Examples:
  # Host a table with mic and speakers
  arecord -r 16000 -f S16_LE -c 1 | tablecast | aplay -r 24000 -f S16_LE -c 1

  # Join an existing table
  TABLECAST_ROLE=join TABLECAST_ROOM=4217 \
    arecord -r 16000 -f S16_LE -c 1 | tablecast | aplay -r 24000 -f S16_LE -c 1

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %s, shutting down", sig)
		cancel()
	}()

	role := mesh.RoleHub
	if cfg.Role == config.RoleJoin {
		role = mesh.RoleSpoke
	}

	// Step 1: Resolve the rendezvous endpoint and ICE servers
	signalURL := cfg.SignalURL
	iceServers := []domain.ICEServer{{URL: "stun:stun.l.google.com:19302"}}
	if cfg.TicketURL != "" {
		ticket, err := api.NewClient(cfg.TicketURL).FetchTicket(cfg.Room)
		if err != nil {
			log.Fatalf("[main] fetch room ticket: %v", err)
		}
		log.Printf("[main] ticket obtained: room=%s signal=%s", ticket.Room, ticket.SignalServer)
		if ticket.SignalServer != "" {
			signalURL = ticket.SignalServer
		}
		if len(ticket.ICEServers) > 0 {
			iceServers = ticket.ICEServers
		}
	}

	// Step 2: Shared state over the in-memory profile store
	profiles := storage.NewMemory(storage.DefaultCatalog())
	store := state.New(profiles)

	// Step 3: Capture graph - mic from stdin, cameras by snapshot URL
	am := mixer.NewAudioMixer(mixer.ReaderAudioSource(os.Stdin))
	compositor := mixer.NewCompositor()

	var cameras []*mixer.SnapshotSource
	for i, url := range cfg.Cameras {
		cam := mixer.NewSnapshotSource(fmt.Sprintf("cam-%d", i+1), url, time.Second)
		cameras = append(cameras, cam)
		compositor.AddSource(cam)
	}
	stopCapture := func() {
		for _, cam := range cameras {
			cam.Close()
		}
	}

	// Step 4: Orchestrator routes every event between the components
	orch := session.New(store, profiles, am, compositor, role)

	// Step 5: Mesh with the orchestrator as its handler
	m, err := mesh.New(iceServers, orch)
	if err != nil {
		log.Fatalf("[main] create mesh: %v", err)
	}

	// Step 6: Rendezvous client with the mesh as its handler, then close the
	// circular dependency
	sc := sigclient.NewClient(signalURL, m)
	m.SetSignaler(sc)
	orch.SetNet(m)

	// Step 7: Agent session; the orchestrator owns connect/disconnect
	agentSession := agent.NewSession(agent.Options{
		Key:         cfg.AgentKey,
		URL:         cfg.AgentURL,
		Model:       cfg.AgentModel,
		Mixer:       am,
		Compositor:  compositor,
		Actions:     orch,
		Sink:        mixer.NewWriterSink(os.Stdout),
		StopCapture: stopCapture,
	})
	orch.SetAgent(agentSession)

	// Step 8: Connect signaling and claim an identity
	if err := sc.Connect(); err != nil {
		log.Fatalf("[main] signal connect: %v", err)
	}
	id, err := m.Start(role, cfg.Room)
	if err != nil {
		log.Fatalf("[main] start mesh: %v", err)
	}
	if role == mesh.RoleHub {
		log.Printf("[main] hosting room %s as %s", m.Room(), id)
	}

	// Step 9: Spokes dial the hub; hosts wait for inbound connections
	if role == mesh.RoleSpoke {
		if err := m.ConnectTo(mesh.HubIdentity(cfg.Room)); err != nil {
			if errors.Is(err, domain.ErrPeerUnreachable) {
				log.Fatalf("[main] no answer from room %s, check the room code", cfg.Room)
			}
			log.Fatalf("[main] join room: %v", err)
		}
	}

	// Step 10: Publish the local mic and camera to the peers
	m.PublishAudio(am.OutboundUlaw())
	if len(cameras) > 0 {
		go publishStills(ctx, m, cameras[0])
	}

	// Step 11: Seat the local player and bring the agent up if credentialed
	if err := orch.RegisterPlayers([]string{cfg.Name}); err != nil {
		log.Printf("[main] register %s: %v", cfg.Name, err)
	}
	if err := orch.ConnectAgent(); err != nil {
		if errors.Is(err, domain.ErrMissingCredential) {
			log.Printf("[main] no agent key configured, running without the agent")
		} else {
			log.Printf("[main] agent connect: %v", err)
		}
	}

	<-ctx.Done()
	log.Printf("[main] shutting down")

	orch.DisconnectAgent()
	m.Teardown()
	sc.Close()
	am.Close()
	stopCapture()

	log.Printf("[main] done")
}

// publishStills broadcasts the primary camera's latest frame to the peers
// about once per second.
func publishStills(ctx context.Context, m *mesh.Mesh, cam *mixer.SnapshotSource) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			img, ok := cam.Latest()
			if !ok {
				continue
			}
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
				log.Printf("[main] encode still: %v", err)
				continue
			}
			m.PublishStill(buf.Bytes())
		}
	}
}
