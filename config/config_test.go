package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mover.PollRate != 500*time.Millisecond {
		t.Errorf("mover poll rate = %v, want 500ms", cfg.Mover.PollRate)
	}
	if cfg.Controller.Addresses["item_position"] != "D100" {
		t.Errorf("item_position = %q, want D100", cfg.Controller.Addresses["item_position"])
	}
}

func TestLoadOverridesAndSidePoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repairedge.yaml")
	data := `
station_id: cell-7
mover:
  address: 10.0.0.5:19206
  poll_rate: 750ms
  points:
    "3":
      handoff: 1003
      standby: 2003
workflow:
  await_timeout: 2m
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StationID != "cell-7" {
		t.Errorf("StationID = %q, want cell-7", cfg.StationID)
	}
	if cfg.Mover.PollRate != 750*time.Millisecond {
		t.Errorf("PollRate = %v, want 750ms", cfg.Mover.PollRate)
	}
	if cfg.Workflow.AwaitTimeout != 2*time.Minute {
		t.Errorf("AwaitTimeout = %v, want 2m", cfg.Workflow.AwaitTimeout)
	}
	// Defaults survive a partial file.
	if cfg.Controller.SlaveID != 1 {
		t.Errorf("SlaveID = %d, want 1", cfg.Controller.SlaveID)
	}

	pts, err := cfg.SidePoints("3")
	if err != nil {
		t.Fatalf("SidePoints: %v", err)
	}
	if pts.Handoff != 1003 || pts.Standby != 2003 {
		t.Errorf("points = %+v, want handoff=1003 standby=2003", pts)
	}
	if _, err := cfg.SidePoints("9"); err == nil {
		t.Error("expected error for unknown side")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Defaults()
	cfg.Mover.Points["1"] = SidePoints{Handoff: 11, Standby: 12}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Mover.Points["1"].Standby != 12 {
		t.Errorf("standby = %d, want 12", got.Mover.Points["1"].Standby)
	}
}
