package node

import (
	"github.com/Rustem/piChain/internal/paxos"
	"github.com/Rustem/piChain/internal/transport"
)

func prepareFromMsg(m transport.PrepareMsg) paxos.Prepare {
	return paxos.Prepare{Depth: m.Depth, Ballot: m.Ballot}
}

func promiseFromMsg(m transport.PromiseMsg) paxos.Promise {
	p := paxos.Promise{Depth: m.Depth, Ballot: m.Ballot}
	if m.HasAccepted {
		p.Accepted = &paxos.AcceptedValue{Ballot: m.AcceptedBallot, Value: m.AcceptedValue}
	}
	return p
}

func acceptFromMsg(m transport.AcceptMsg) paxos.Accept {
	return paxos.Accept{Depth: m.Depth, Ballot: m.Ballot, Value: m.Value}
}

func acceptedFromMsg(m transport.AcceptedMsg) paxos.Accepted {
	return paxos.Accepted{Depth: m.Depth, Ballot: m.Ballot}
}

func nackFromMsg(m transport.NackMsg) paxos.Nack {
	return paxos.Nack{Depth: m.Depth, Highest: m.Highest}
}

func decideFromMsg(m transport.DecideMsg) paxos.Decide {
	return paxos.Decide{Depth: m.Depth, Value: m.Value}
}
