package kdbx

import "crypto/sha256"

// salsaNonce is the fixed 8-byte nonce spec.md §6/4.E mandates for the
// protected-field keystream.
var salsaNonce = [8]byte{0xE8, 0x30, 0x09, 0x4B, 0x97, 0x20, 0x5D, 0x2A}

var sigmaWords = [4]uint32{
	0x61707865,
	0x3320646e,
	0x79622d32,
	0x6b206574,
}

// salsaStream is a single-consumer Salsa20 keystream cursor. It is created
// once per database load, threaded through the XML walk in document order,
// and discarded once the walk completes; per spec.md §5 it is never
// re-seeded mid-document and never exposed after load.
type salsaStream struct {
	state   [16]uint32
	block   [64]byte
	used    int // bytes of block already consumed; 64 means "generate a fresh block"
	pending []byte
}

// newSalsaStream seeds the stream from SHA-256(innerRandomStreamKey), per
// spec.md §4.E.
func newSalsaStream(innerRandomStreamKey []byte) *salsaStream {
	hash := sha256.Sum256(innerRandomStreamKey)

	s := &salsaStream{used: 64}
	s.state[0] = sigmaWords[0]
	s.state[1] = u8to32le(hash[:], 0)
	s.state[2] = u8to32le(hash[:], 4)
	s.state[3] = u8to32le(hash[:], 8)
	s.state[4] = u8to32le(hash[:], 12)
	s.state[5] = sigmaWords[1]
	s.state[6] = u8to32le(salsaNonce[:], 0)
	s.state[7] = u8to32le(salsaNonce[:], 4)
	s.state[8] = 0
	s.state[9] = 0
	s.state[10] = sigmaWords[2]
	s.state[11] = u8to32le(hash[:], 16)
	s.state[12] = u8to32le(hash[:], 20)
	s.state[13] = u8to32le(hash[:], 24)
	s.state[14] = u8to32le(hash[:], 28)
	s.state[15] = sigmaWords[3]
	return s
}

// xor returns the plaintext obtained by XORing ciphertext with the next
// len(ciphertext) keystream bytes. Every call advances the cursor; an
// empty ciphertext consumes zero bytes, matching spec.md 4.E's "empty
// protected values consume zero bytes" edge case.
func (s *salsaStream) xor(ciphertext []byte) []byte {
	if len(ciphertext) == 0 {
		return nil
	}
	ks := s.fetch(len(ciphertext))
	out := make([]byte, len(ciphertext))
	for i := range ciphertext {
		out[i] = ciphertext[i] ^ ks[i]
	}
	return out
}

func (s *salsaStream) fetch(n int) []byte {
	for len(s.pending) < n {
		s.pending = append(s.pending, s.nextBlockBytes(64)...)
	}
	out := s.pending[:n]
	s.pending = s.pending[n:]
	return out
}

func (s *salsaStream) nextBlockBytes(n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		if s.used == 64 {
			s.generateBlock()
			s.used = 0
		}
		out[i] = s.block[s.used]
		s.used++
	}
	return out
}

// generateBlock runs the 20-round (10 double-round) Salsa20 core over the
// current state and increments the 64-bit block counter held in
// state[8:10].
func (s *salsaStream) generateBlock() {
	var x [16]uint32
	copy(x[:], s.state[:])

	for i := 0; i < 10; i++ {
		x[4] ^= rotl32(x[0]+x[12], 7)
		x[8] ^= rotl32(x[4]+x[0], 9)
		x[12] ^= rotl32(x[8]+x[4], 13)
		x[0] ^= rotl32(x[12]+x[8], 18)

		x[9] ^= rotl32(x[5]+x[1], 7)
		x[13] ^= rotl32(x[9]+x[5], 9)
		x[1] ^= rotl32(x[13]+x[9], 13)
		x[5] ^= rotl32(x[1]+x[13], 18)

		x[14] ^= rotl32(x[10]+x[6], 7)
		x[2] ^= rotl32(x[14]+x[10], 9)
		x[6] ^= rotl32(x[2]+x[14], 13)
		x[10] ^= rotl32(x[6]+x[2], 18)

		x[3] ^= rotl32(x[15]+x[11], 7)
		x[7] ^= rotl32(x[3]+x[15], 9)
		x[11] ^= rotl32(x[7]+x[3], 13)
		x[15] ^= rotl32(x[11]+x[7], 18)

		x[1] ^= rotl32(x[0]+x[3], 7)
		x[2] ^= rotl32(x[1]+x[0], 9)
		x[3] ^= rotl32(x[2]+x[1], 13)
		x[0] ^= rotl32(x[3]+x[2], 18)

		x[6] ^= rotl32(x[5]+x[4], 7)
		x[7] ^= rotl32(x[6]+x[5], 9)
		x[4] ^= rotl32(x[7]+x[6], 13)
		x[5] ^= rotl32(x[4]+x[7], 18)

		x[11] ^= rotl32(x[10]+x[9], 7)
		x[8] ^= rotl32(x[11]+x[10], 9)
		x[9] ^= rotl32(x[8]+x[11], 13)
		x[10] ^= rotl32(x[9]+x[8], 18)

		x[12] ^= rotl32(x[15]+x[14], 7)
		x[13] ^= rotl32(x[12]+x[15], 9)
		x[14] ^= rotl32(x[13]+x[12], 13)
		x[15] ^= rotl32(x[14]+x[13], 18)
	}

	for i := 0; i < 16; i++ {
		x[i] += s.state[i]
	}
	for i := 0; i < 16; i++ {
		s.block[i<<2] = byte(x[i])
		s.block[(i<<2)+1] = byte(x[i] >> 8)
		s.block[(i<<2)+2] = byte(x[i] >> 16)
		s.block[(i<<2)+3] = byte(x[i] >> 24)
	}

	s.state[8]++
	if s.state[8] == 0 {
		s.state[9]++
	}
}

func u8to32le(b []byte, i int) uint32 {
	return uint32(b[i]) | uint32(b[i+1])<<8 | uint32(b[i+2])<<16 | uint32(b[i+3])<<24
}

func rotl32(x uint32, n uint) uint32 {
	return (x << n) | (x >> (32 - n))
}
