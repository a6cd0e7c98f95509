package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TABLECAST_ROLE", "")
	t.Setenv("TABLECAST_ROOM", "")
	t.Setenv("TABLECAST_SIGNAL_URL", "")
	t.Setenv("TABLECAST_CAMERAS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Role != RoleHost {
		t.Errorf("expected default role host, got %q", cfg.Role)
	}
	if cfg.SignalURL == "" {
		t.Error("expected a default signal URL")
	}
	if len(cfg.Cameras) != 0 {
		t.Errorf("expected no cameras, got %v", cfg.Cameras)
	}
}

func TestLoad_JoinRequiresRoom(t *testing.T) {
	t.Setenv("TABLECAST_ROLE", "join")
	t.Setenv("TABLECAST_ROOM", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when joining without a room code")
	}
}

func TestLoad_ParsesCameraList(t *testing.T) {
	t.Setenv("TABLECAST_ROLE", "host")
	t.Setenv("TABLECAST_CAMERAS", "http://cam1/snap.jpg, http://cam2/snap.jpg,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Cameras) != 2 || cfg.Cameras[1] != "http://cam2/snap.jpg" {
		t.Errorf("unexpected camera list: %v", cfg.Cameras)
	}
}

func TestLoad_RejectsUnknownRole(t *testing.T) {
	t.Setenv("TABLECAST_ROLE", "spectator")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}
