package ring

import (
	"bytes"

	"google.golang.org/protobuf/encoding/protowire"

	"go.timothygu.me/zkring/internal/pkg/types"
)

// VirtualNode is one of the R placements of a peer on the ring.
type VirtualNode struct {
	Peer    types.PeerIdentity
	Replica int
}

// AppendBinary appends the canonical encoding hashed to place v.
func (v VirtualNode) AppendBinary(b []byte) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, v.Peer.AppendBinary(nil))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Replica))
	return b
}

// entry is a placed virtual node together with its full hash.
type entry struct {
	vnode VirtualNode
	hash  uint32
}

// beats reports whether e takes a slot held by o. The larger hash wins;
// equal hashes fall back to peer id, then replica index.
func (e entry) beats(o entry) bool {
	if e.hash != o.hash {
		return e.hash > o.hash
	}
	if c := bytes.Compare(e.vnode.Peer.ID[:], o.vnode.Peer.ID[:]); c != 0 {
		return c > 0
	}
	return e.vnode.Replica > o.vnode.Replica
}
