package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, c Cluster) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.json")
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshaling test config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadRoundTrips(t *testing.T) {
	c := Cluster{
		Peers: map[NodeId]PeerConfig{
			0: {Host: "127.0.0.1", PeerPort: 9000, ClientPort: 9100, UUID: "a"},
			1: {Host: "127.0.0.1", PeerPort: 9001, ClientPort: 9101, UUID: "b"},
		},
		Self:      0,
		Bootstrap: true,
	}
	path := writeConfig(t, c)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Self != 0 || !loaded.Bootstrap {
		t.Fatalf("loaded config does not match: %+v", loaded)
	}
	if len(loaded.Peers) != 2 || loaded.Peers[1].UUID != "b" {
		t.Fatalf("peer table did not round-trip: %+v", loaded.Peers)
	}
}

func TestLoadRejectsMissingSelf(t *testing.T) {
	c := Cluster{
		Peers: map[NodeId]PeerConfig{0: {Host: "127.0.0.1"}},
		Self:  5,
	}
	path := writeConfig(t, c)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error when self is not present in the peer table")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json")); err == nil {
		t.Fatalf("expected an error opening a nonexistent file")
	}
}

func TestQuorumIsMajority(t *testing.T) {
	cases := []struct {
		size, want int
	}{
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{5, 3},
	}
	for _, tc := range cases {
		c := &Cluster{Peers: make(map[NodeId]PeerConfig, tc.size)}
		for i := 0; i < tc.size; i++ {
			c.Peers[NodeId(i)] = PeerConfig{}
		}
		if got := c.Quorum(); got != tc.want {
			t.Errorf("Quorum() for size %d = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestPeerIDsAscending(t *testing.T) {
	c := &Cluster{Peers: map[NodeId]PeerConfig{5: {}, 1: {}, 3: {}}}
	ids := c.PeerIDs()
	want := []NodeId{1, 3, 5}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected ascending order %v, got %v", want, ids)
		}
	}
}
