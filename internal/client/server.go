// Package client implements the line-delimited client protocol: one
// goroutine accepts connections on the client port, one goroutine per
// connection parses "put <key> <value>" / "get <key>" lines and drives
// them through a Node, writing back one response line per request.
package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/kv"
	"github.com/Rustem/piChain/internal/logging"
	"github.com/Rustem/piChain/internal/node"
)

// Submitter is the subset of *node.Node the client server depends on.
type Submitter interface {
	ID() chain.NodeId
	Submit(txn chain.Transaction) <-chan node.Ack
	Get(key []byte) ([]byte, bool)
}

// Server accepts client connections on a single TCP listener and serves
// the put/get protocol against a Submitter.
type Server struct {
	listener net.Listener
	node     Submitter
	log      logging.Logger

	seq uint64 // per-server, not per-connection: every put gets a fresh client_seq
}

// Listen opens the client port and returns a Server ready to Serve.
func Listen(addr string, n Submitter, log logging.Logger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{listener: l, node: n, log: log}, nil
}

// Addr reports the bound address, useful when addr was "host:0" in tests.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each connection is handled on its own goroutine; Serve itself
// blocks until Accept starts failing.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	w := bufio.NewWriter(conn)
	defer w.Flush()

	for scanner.Scan() {
		line := scanner.Bytes()
		resp := s.handleLine(line)
		if _, err := w.Write(resp); err != nil {
			s.log.Warnf("client write failed: %v", err)
			return
		}
		if err := w.Flush(); err != nil {
			s.log.Warnf("client flush failed: %v", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Warnf("client connection read error: %v", err)
	}
}

// handleLine parses and executes a single command, returning the
// newline-terminated response line.
func (s *Server) handleLine(line []byte) []byte {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return errLine("empty command")
	}

	switch string(fields[0]) {
	case "put":
		if len(fields) != 3 {
			return errLine("put requires <key> <value>")
		}
		return s.handlePut(fields[1], fields[2])
	case "get":
		if len(fields) != 2 {
			return errLine("get requires <key>")
		}
		return s.handleGet(fields[1])
	default:
		return errLine(fmt.Sprintf("unknown command %q", fields[0]))
	}
}

func (s *Server) handlePut(key, value []byte) []byte {
	payload := kv.Encode(key, value)
	clientSeq := atomic.AddUint64(&s.seq, 1)
	txn := chain.Transaction{
		Creator:   s.node.ID(),
		ClientSeq: clientSeq,
		Payload:   payload,
	}

	ack := <-s.node.Submit(txn)
	if ack.Err != nil {
		return errLine(ack.Err.Error())
	}
	return []byte("put " + string(key) + " " + string(value) + "\n")
}

func (s *Server) handleGet(key []byte) []byte {
	value, ok := s.node.Get(key)
	if !ok {
		return errLine("key not found")
	}
	return []byte("get " + string(key) + " " + string(value) + "\n")
}

func errLine(reason string) []byte {
	return []byte("err " + strconv.Quote(reason) + "\n")
}
