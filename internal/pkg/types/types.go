package types

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedIdentity is returned when a serialized PeerIdentity cannot be decoded.
var ErrMalformedIdentity = errors.New("types: malformed peer identity")

// Field numbers of the PeerIdentity wire encoding. Members of the same
// cluster must agree on these.
const (
	fieldID      protowire.Number = 1
	fieldAddress protowire.Number = 2
	fieldPort    protowire.Number = 3
)

const maxPort = 65535

// PeerIdentity is one addressable process. It is created once at startup and
// never mutated, so it can be shared freely between goroutines.
type PeerIdentity struct {
	ID      uuid.UUID
	Address string
	Port    int
}

func NewPeerIdentity(address string, port int) PeerIdentity {
	return PeerIdentity{ID: uuid.New(), Address: address, Port: port}
}

// Addr returns the host:port the peer listens on.
func (p PeerIdentity) Addr() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}

func (p PeerIdentity) String() string {
	return p.ID.String() + "@" + p.Addr()
}

// Validate reports whether p can be registered in a group.
func (p PeerIdentity) Validate() error {
	if p.ID == uuid.Nil {
		return errors.New("types: peer identity has no id")
	}
	if p.Address == "" {
		return fmt.Errorf("types: peer %v has no address", p.ID)
	}
	if p.Port < 0 || p.Port > maxPort {
		return fmt.Errorf("types: peer %v has invalid port %d", p.ID, p.Port)
	}
	return nil
}

// AppendBinary appends the canonical encoding of p to b.
// Fields are always written in field-number order, so equal identities
// produce identical bytes on every process.
func (p PeerIdentity) AppendBinary(b []byte) []byte {
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, p.ID[:])
	b = protowire.AppendTag(b, fieldAddress, protowire.BytesType)
	b = protowire.AppendString(b, p.Address)
	b = protowire.AppendTag(b, fieldPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Port))
	return b
}

func (p PeerIdentity) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(nil), nil
}

// UnmarshalBinary decodes data produced by MarshalBinary. Unknown fields are
// skipped so newer members can extend the payload.
func (p *PeerIdentity) UnmarshalBinary(data []byte) error {
	var (
		out   PeerIdentity
		hasID bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedIdentity, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: id: %v", ErrMalformedIdentity, protowire.ParseError(n))
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return fmt.Errorf("%w: id: %v", ErrMalformedIdentity, err)
			}
			out.ID, hasID = id, true
			data = data[n:]
		case num == fieldAddress && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("%w: address: %v", ErrMalformedIdentity, protowire.ParseError(n))
			}
			out.Address = v
			data = data[n:]
		case num == fieldPort && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: port: %v", ErrMalformedIdentity, protowire.ParseError(n))
			}
			if v > maxPort {
				return fmt.Errorf("%w: port %d out of range", ErrMalformedIdentity, v)
			}
			out.Port = int(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedIdentity, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if !hasID {
		return fmt.Errorf("%w: missing id", ErrMalformedIdentity)
	}
	*p = out
	return nil
}
