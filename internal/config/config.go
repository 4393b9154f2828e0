// Package config holds the static, cluster-wide peer table. Membership is
// fixed for the lifetime of a deployment: there is no add/remove-peer
// operation anywhere in piChain.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// NodeId is the small, dense, totally-ordered peer identifier used
// throughout the system as a tie-break key.
type NodeId uint64

// PeerConfig describes how to reach and identify a single cluster member.
type PeerConfig struct {
	Host       string `json:"host"`
	PeerPort   int    `json:"peer_port"`
	ClientPort int    `json:"client_port"`

	// UUID is the stable identity carried across restarts; NodeId is only
	// the ordering/tie-break key and may in principle be reassigned on a
	// from-scratch bootstrap, the UUID never is.
	UUID string `json:"uuid"`
}

// Cluster is the static { node_id -> PeerConfig } table every peer loads
// identically at startup.
type Cluster struct {
	Peers map[NodeId]PeerConfig `json:"peers"`

	// Self is the node_id of the peer loading this configuration.
	Self NodeId `json:"self"`

	// Bootstrap marks a fresh-cluster bootstrap: peer 0 starts in the quick
	// role instead of the default slow role. Every other peer starts slow
	// regardless.
	Bootstrap bool `json:"bootstrap"`
}

// Load decodes a Cluster from a JSON file. This is deliberately a thin
// encoding/json decode and nothing more: no templating, env-var overlay
// or validation framework, just the static table.
func Load(path string) (*Cluster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config %s", path)
	}
	defer f.Close()

	var c Cluster
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return nil, errors.Wrapf(err, "decoding config %s", path)
	}
	if _, ok := c.Peers[c.Self]; !ok {
		return nil, errors.Errorf("self node_id %d not present in peer table", c.Self)
	}
	return &c, nil
}

// Quorum returns ceil((N+1)/2) for the cluster size N, the majority needed
// by a Paxos round (GLOSSARY: Quorum).
func (c *Cluster) Quorum() int {
	n := len(c.Peers)
	return (n + 2) / 2
}

// PeerIDs returns every node id in the cluster, ascending.
func (c *Cluster) PeerIDs() []NodeId {
	ids := make([]NodeId, 0, len(c.Peers))
	for id := range c.Peers {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
