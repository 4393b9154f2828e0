// Command pichain runs a single piChain peer: it loads the static cluster
// configuration, opens durable storage, wires up the transport and the
// node event loop, and serves the client port until a signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rustem/piChain/internal/client"
	"github.com/Rustem/piChain/internal/config"
	"github.com/Rustem/piChain/internal/logging"
	"github.com/Rustem/piChain/internal/node"
	"github.com/Rustem/piChain/internal/storage"
	"github.com/Rustem/piChain/internal/transport"
)

// Exit codes, per the external interfaces contract.
const (
	exitClean         = 0
	exitConfigError   = 1
	exitStorageError  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "pichain.json", "path to the cluster configuration file")
	dataDir := flag.String("data", "./data", "directory for this peer's bbolt database")
	flag.Parse()

	cluster, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pichain: loading config: %v\n", err)
		return exitConfigError
	}

	self, ok := cluster.Peers[cluster.Self]
	if !ok {
		fmt.Fprintf(os.Stderr, "pichain: self node_id %d not in peer table\n", cluster.Self)
		return exitConfigError
	}

	log := logging.New(uint64(cluster.Self))

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Errorf("creating data directory %s: %v", *dataDir, err)
		return exitStorageError
	}
	dbPath := fmt.Sprintf("%s/node-%d.db", *dataDir, cluster.Self)
	store, err := storage.OpenBolt(dbPath)
	if err != nil {
		log.Errorf("opening storage at %s: %v", dbPath, err)
		return exitStorageError
	}
	defer store.Close()

	trans, err := transport.NewPeerChannel(cluster.Self, cluster, log)
	if err != nil {
		log.Errorf("starting transport: %v", err)
		return exitConfigError
	}
	defer trans.Close()

	n, err := node.New(node.Config{
		ID:        cluster.Self,
		Cluster:   cluster,
		Storage:   store,
		Transport: trans,
		Log:       log,
	})
	if err != nil {
		log.Errorf("constructing node: %v", err)
		return exitStorageError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go n.Run(ctx)

	clientAddr := fmt.Sprintf("%s:%d", self.Host, self.ClientPort)
	srv, err := client.Listen(clientAddr, n, log)
	if err != nil {
		log.Errorf("starting client server on %s: %v", clientAddr, err)
		return exitConfigError
	}

	serveErrs := make(chan error, 1)
	go func() { serveErrs <- srv.Serve(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		log.Infof("received shutdown signal")
	case err := <-serveErrs:
		if err != nil {
			log.Errorf("client server stopped: %v", err)
		}
	}

	cancel()
	n.Shutdown()
	srv.Close()

	return exitClean
}
