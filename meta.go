// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package rib

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/starcast/rib/internal/rtypes"
)

// Meta is the capability contract a route payload type must satisfy to be
// used as the M parameter of RIB[M]: equality (Record.Equal compares
// payloads with it), a display form, and byte serialization (so any
// persisted strategy can write it to the log-structured store). The RIB
// never interprets M beyond these three methods.
type Meta[M any] interface {
	rtypes.Meta[M]
}

// Decoder reconstructs a Meta value from the bytes its MarshalBinary
// produced. It is supplied to Config rather than expressed as an
// UnmarshalBinary method on M: that method is conventionally a
// pointer-receiver mutator, which a value type's method set never
// satisfies, and M must stay a plain comparable value for Record[M]
// equality and the Meta constraint to mean what they say.
type Decoder[M Meta[M]] func(data []byte) (M, error)

// ASN is a bundled Meta payload carrying a single AS number, the shape
// of the bundled full-table CSV data set (addr, len, asn).
type ASN uint32

func (a ASN) String() string { return fmt.Sprintf("AS%d", uint32(a)) }

func (a ASN) Equal(o ASN) bool { return a == o }

func (a ASN) MarshalBinary() ([]byte, error) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(a))
	return b[:], nil
}

// DecodeASN is ASN's Decoder.
func DecodeASN(data []byte) (ASN, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("rib: bad ASN encoding length %d, want 4", len(data))
	}
	return ASN(binary.BigEndian.Uint32(data)), nil
}

// MaxCommunities bounds PathAttrs.Communities. rtypes.Meta embeds
// Go's comparable constraint; a slice
// field would make PathAttrs itself non-comparable, so the community
// list is a fixed-size array with an explicit count instead.
const MaxCommunities = 8

// PathAttrs is a second bundled Meta payload, a richer route attribute
// set (next hop plus a bounded community list) than the bare ASN
// example.
type PathAttrs struct {
	NextHop        netip.Addr
	Communities    [MaxCommunities]uint32
	CommunityCount uint8
}

// NewPathAttrs builds a PathAttrs from a next hop and an arbitrary-length
// community list, truncated to MaxCommunities.
func NewPathAttrs(nextHop netip.Addr, communities []uint32) PathAttrs {
	p := PathAttrs{NextHop: nextHop}
	n := len(communities)
	if n > MaxCommunities {
		n = MaxCommunities
	}
	copy(p.Communities[:], communities[:n])
	p.CommunityCount = uint8(n)
	return p
}

func (p PathAttrs) String() string {
	return fmt.Sprintf("next-hop=%s communities=%v", p.NextHop, p.Communities[:p.CommunityCount])
}

func (p PathAttrs) Equal(o PathAttrs) bool {
	return p.NextHop == o.NextHop && p.Communities == o.Communities && p.CommunityCount == o.CommunityCount
}

// MarshalBinary encodes PathAttrs as:
//
//	[ family:1 (0=unspecified,4,6) | next-hop bytes | count:1
//	  | communities: count * 4 BE bytes ]
func (p PathAttrs) MarshalBinary() ([]byte, error) {
	var family byte
	var hopBytes []byte
	switch {
	case !p.NextHop.IsValid():
		family = 0
	case p.NextHop.Is4():
		b := p.NextHop.As4()
		family, hopBytes = 4, b[:]
	default:
		b := p.NextHop.As16()
		family, hopBytes = 6, b[:]
	}

	out := make([]byte, 0, 1+len(hopBytes)+1+4*int(p.CommunityCount))
	out = append(out, family)
	out = append(out, hopBytes...)
	out = append(out, p.CommunityCount)

	for _, c := range p.Communities[:p.CommunityCount] {
		var cb [4]byte
		binary.BigEndian.PutUint32(cb[:], c)
		out = append(out, cb[:]...)
	}
	return out, nil
}

// DecodePathAttrs is PathAttrs's Decoder.
func DecodePathAttrs(data []byte) (PathAttrs, error) {
	if len(data) < 1 {
		return PathAttrs{}, fmt.Errorf("rib: bad PathAttrs encoding: empty")
	}
	family := data[0]
	rest := data[1:]

	var hop netip.Addr
	switch family {
	case 0:
	case 4:
		if len(rest) < 4 {
			return PathAttrs{}, fmt.Errorf("rib: bad PathAttrs encoding: short v4 next hop")
		}
		var b [4]byte
		copy(b[:], rest[:4])
		hop = netip.AddrFrom4(b)
		rest = rest[4:]
	case 6:
		if len(rest) < 16 {
			return PathAttrs{}, fmt.Errorf("rib: bad PathAttrs encoding: short v6 next hop")
		}
		var b [16]byte
		copy(b[:], rest[:16])
		hop = netip.AddrFrom16(b)
		rest = rest[16:]
	default:
		return PathAttrs{}, fmt.Errorf("rib: bad PathAttrs encoding: unknown family %d", family)
	}

	if len(rest) < 1 {
		return PathAttrs{}, fmt.Errorf("rib: bad PathAttrs encoding: missing community count")
	}
	count := int(rest[0])
	rest = rest[1:]
	if count > MaxCommunities {
		return PathAttrs{}, fmt.Errorf("rib: bad PathAttrs encoding: community count %d exceeds max %d", count, MaxCommunities)
	}
	if len(rest) != count*4 {
		return PathAttrs{}, fmt.Errorf("rib: bad PathAttrs encoding: community count mismatch")
	}

	p := PathAttrs{NextHop: hop, CommunityCount: uint8(count)}
	for i := 0; i < count; i++ {
		p.Communities[i] = binary.BigEndian.Uint32(rest[i*4 : i*4+4])
	}

	return p, nil
}
