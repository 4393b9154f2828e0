package node

import "github.com/Rustem/piChain/internal/chain"

// onLocalBlockCreated applies the role-promotion rule that fires whenever
// this peer itself creates a block: slow peers that manage to propose
// become medium, medium peers that manage to propose become quick. A
// quick peer creating a block stays quick.
func (n *Node) onLocalBlockCreated() {
	switch n.role {
	case chain.RoleSlow:
		n.setRole(chain.RoleMedium)
	case chain.RoleMedium:
		n.setRole(chain.RoleQuick)
	}
}

// onBlockReceived applies the role-demotion rules that fire on receiving
// somebody else's block:
//
//   - a block created by a quick peer demotes every other peer to slow
//     (there is already an active leader, no need to compete);
//   - a block created by a medium peer demotes a currently-medium
//     receiver to slow only if that block is deeper than the receiver's
//     own latest proposal (somebody else is keeping pace or ahead; make
//     room rather than race them).
func (n *Node) onBlockReceived(b chain.Block) {
	if b.Creator == n.id {
		return
	}
	switch b.CreatorRoleAtCreation {
	case chain.RoleQuick:
		n.setRole(chain.RoleSlow)
	case chain.RoleMedium:
		if n.role == chain.RoleMedium && int64(b.Depth) > n.ownLatestBlockDepth {
			n.setRole(chain.RoleSlow)
		}
	}
}

func (n *Node) setRole(r chain.Role) {
	if r == n.role {
		return
	}
	n.log.WithField("component", "role").WithField("role", r.String()).
		Infof("role %s -> %s", n.role, r)
	n.role = r
	n.rearmPatience()
}
