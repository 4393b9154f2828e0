package transport

import (
	"testing"

	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/paxos"
)

func header(seq uint64) Header {
	return Header{Version: CurrentVersion, From: 3, Seq: seq}
}

func TestCodecRoundTripsEveryMessageKind(t *testing.T) {
	block := chain.NewBlock(1, chain.ZeroHash, 1, chain.RoleQuick,
		[]chain.Transaction{{Creator: 1, ClientSeq: 1, Payload: []byte("p")}})
	ballot := paxos.Ballot{Round: 2, Proposer: 1}

	cases := []Message{
		TxnMsg{H: header(1), Txn: chain.Transaction{Creator: 9, ClientSeq: 4, Payload: []byte("hi")}},
		BlockMsg{H: header(2), Block: block},
		PrepareMsg{H: header(3), Depth: 5, Ballot: ballot},
		PromiseMsg{H: header(4), Depth: 5, Ballot: ballot, HasAccepted: false},
		PromiseMsg{H: header(5), Depth: 5, Ballot: ballot, HasAccepted: true, AcceptedBallot: ballot, AcceptedValue: block},
		AcceptMsg{H: header(6), Depth: 5, Ballot: ballot, Value: block},
		AcceptedMsg{H: header(7), Depth: 5, Ballot: ballot},
		NackMsg{H: header(8), Depth: 5, Highest: ballot},
		DecideMsg{H: header(9), Depth: 5, Value: block},
		PingMsg{H: header(10)},
		BackfillRequestMsg{H: header(11), Want: block.BlockID},
		BackfillResponseMsg{H: header(12), Blocks: []chain.Block{chain.Genesis(), block}},
	}

	for _, want := range cases {
		frame := Encode(want)
		got, err := Decode(frame)
		if err != nil {
			t.Fatalf("Decode(%T): %v", want, err)
		}
		if got.Tag() != want.Tag() {
			t.Fatalf("tag mismatch for %T: got %v want %v", want, got.Tag(), want.Tag())
		}
		if got.GetHeader() != want.GetHeader() {
			t.Fatalf("header mismatch for %T: got %+v want %+v", want, got.GetHeader(), want.GetHeader())
		}
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	msg := PingMsg{H: Header{Version: 0x99, From: 1, Seq: 1}}
	frame := Encode(msg)
	if _, err := Decode(frame); err != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	msg := PingMsg{H: header(1)}
	frame := Encode(msg)
	frame[0] = 0xFF
	if _, err := Decode(frame); err != ErrUnknownTag {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	msg := TxnMsg{H: header(1), Txn: chain.Transaction{Creator: 1, ClientSeq: 1, Payload: []byte("longer payload")}}
	frame := Encode(msg)

	for cut := 0; cut < len(frame); cut += 5 {
		if _, err := Decode(frame[:cut]); err == nil {
			t.Fatalf("expected an error decoding a %d/%d byte truncated frame", cut, len(frame))
		}
	}
}
