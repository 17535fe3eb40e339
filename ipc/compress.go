package ipc

import (
	"encoding/binary"
	"fmt"
)

// maxExpansion bounds how many output bytes one input byte of a compressed body can yield.
const maxExpansion = 129

// Compress applies kdb+ IPC compression to a complete message. It reports false,
// returning msg unchanged, when the result would not be under half the original size.
func Compress(msg []byte) ([]byte, bool) {
	t := len(msg)
	if t <= HeaderSize+4 {
		return msg, false
	}
	order := Header{LittleEndian: msg[0] == 1}.ByteOrder()
	out := make([]byte, t/2)
	e := len(out)
	copy(out, msg[:4])
	out[2] = 1
	order.PutUint32(out[8:], uint32(t))

	var (
		table     [256]int
		i, f      byte
		c, d      = 12, 12
		s         = HeaderSize
		h, h0, s0 int
	)
	for s < t {
		if i == 0 {
			if d > e-17 {
				return msg, false
			}
			i = 1
			out[c] = f
			c = d
			d++
			f = 0
		}
		literal := s > t-3
		var p int
		if !literal {
			h = int(msg[s] ^ msg[s+1])
			p = table[h]
			literal = p == 0 || msg[s] != msg[p]
		}
		if s0 > 0 {
			table[h0] = s0
			s0 = 0
		}
		if literal {
			h0, s0 = h, s
			out[d] = msg[s]
			d++
			s++
		} else {
			table[h] = s
			f |= i
			p += 2
			s += 2
			r := s
			q := min(s+255, t)
			for s < q && msg[p] == msg[s] {
				s++
				p++
			}
			out[d] = byte(h)
			out[d+1] = byte(s - r)
			d += 2
		}
		i *= 2
	}
	out[c] = f
	order.PutUint32(out[4:], uint32(d))
	return out[:d], true
}

// Decompress expands a compressed message into a complete uncompressed one.
func Decompress(order binary.ByteOrder, msg []byte) ([]byte, error) {
	if len(msg) < 12 {
		return nil, fmt.Errorf("%d byte message: %w", len(msg), ErrCorrupt)
	}
	n := int(order.Uint32(msg[8:12]))
	if n < HeaderSize || n-HeaderSize > (len(msg)-12)*maxExpansion {
		return nil, fmt.Errorf("uncompressed size %d from %d bytes: %w", n, len(msg), ErrCorrupt)
	}
	dst := make([]byte, n)
	copy(dst, msg[:4])
	dst[2] = 0
	order.PutUint32(dst[4:], uint32(n))

	var (
		table   [256]int
		i, f    byte
		s, p, d = HeaderSize, HeaderSize, 12
	)
	corrupt := func() ([]byte, error) {
		return nil, fmt.Errorf("at offset %d: %w", d, ErrCorrupt)
	}
	for s < n {
		if i == 0 {
			if d >= len(msg) {
				return corrupt()
			}
			f = msg[d]
			d++
			i = 1
		}
		extra := 0
		if f&i != 0 {
			if d+2 > len(msg) || s+2 > n {
				return corrupt()
			}
			r := table[msg[d]]
			if r == 0 {
				return corrupt()
			}
			dst[s], dst[s+1] = dst[r], dst[r+1]
			s += 2
			r += 2
			extra = int(msg[d+1])
			d += 2
			if s+extra > n {
				return corrupt()
			}
			for m := range extra {
				dst[s+m] = dst[r+m]
			}
		} else {
			if d >= len(msg) {
				return corrupt()
			}
			dst[s] = msg[d]
			s++
			d++
		}
		for ; p < s-1; p++ {
			table[dst[p]^dst[p+1]] = p
		}
		if f&i != 0 {
			s += extra
			p = s
		}
		i *= 2
	}
	return dst, nil
}
