package wire

import "errors"

// LZ77 token format: a byte stream of tokens, each
// either a 3-byte back-reference `0x00 distance:u8 length:u8` (length
// >= 3, 1 <= distance <= 255) or a 2-byte literal `0x01 literal:u8`. The
// fixed 1-byte distance/length fields cap the window at 255 bytes and
// match length at 255 — a format contract, not a bug: a payload whose
// only repeat lies further back than that simply falls back to literals.
const (
	tokenBackref byte = 0x00
	tokenLiteral byte = 0x01

	// The search window stops at 255, not 256: a distance of exactly 256
	// cannot be represented in the u8 distance field.
	maxWindow   = 255
	minMatchLen = 3
	maxMatchLen = 255
)

// ErrTruncatedLZ77 is returned when a compressed stream ends mid-token.
var ErrTruncatedLZ77 = errors.New("wire: truncated lz77 stream")

// CompressLZ77 encodes data with a greedy longest-match search bounded
// by the 255-byte window / 255-byte match length contract above.
func CompressLZ77(data []byte) []byte {
	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		bestLen, bestDist := 0, 0

		windowStart := i - maxWindow
		if windowStart < 0 {
			windowStart = 0
		}

		for j := windowStart; j < i; j++ {
			length := matchLength(data, j, i)
			if length >= minMatchLen && length > bestLen {
				bestLen = length
				bestDist = i - j
			}
		}

		if bestLen >= minMatchLen {
			out = append(out, tokenBackref, byte(bestDist), byte(bestLen))
			i += bestLen
		} else {
			out = append(out, tokenLiteral, data[i])
			i++
		}
	}
	return out
}

func matchLength(data []byte, start, cur int) int {
	length := 0
	for cur+length < len(data) && length < maxMatchLen && data[start+length] == data[cur+length] {
		length++
	}
	return length
}

// DecompressLZ77 is the inverse of CompressLZ77.
func DecompressLZ77(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)*2)
	i := 0
	for i < len(data) {
		switch data[i] {
		case tokenLiteral:
			if i+1 >= len(data) {
				return nil, ErrTruncatedLZ77
			}
			out = append(out, data[i+1])
			i += 2
		case tokenBackref:
			if i+2 >= len(data) {
				return nil, ErrTruncatedLZ77
			}
			dist := int(data[i+1])
			length := int(data[i+2])
			if dist == 0 || dist > len(out) {
				return nil, ErrTruncatedLZ77
			}
			start := len(out) - dist
			for k := 0; k < length; k++ {
				out = append(out, out[start+k])
			}
			i += 3
		default:
			return nil, ErrMalformedPacket
		}
	}
	return out, nil
}
