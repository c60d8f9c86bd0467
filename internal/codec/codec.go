// Package codec encodes and decodes the hex-ASCII payloads exchanged over
// the serial AT link, and extracts payloads from raw EVT:RXP2P lines.
package codec

import (
	"errors"
	"strings"
)

// ErrOddLength is returned by Decode when given a hex string of odd length.
var ErrOddLength = errors.New("codec: hex payload has odd length")

const hexDigits = "0123456789abcdef"

// Encode maps each byte of payload to two lowercase hex digits.
func Encode(payload string) string {
	var b strings.Builder
	b.Grow(len(payload) * 2)
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

// Decode converts a hex string back to its ASCII representation. An odd
// length is a hard error; a byte outside the ASCII range is replaced with
// the Unicode replacement character, matching the reference decoder's
// errors="replace" behavior rather than failing the whole decode.
func Decode(hex string) (string, error) {
	if len(hex)%2 != 0 {
		return "", ErrOddLength
	}
	var b strings.Builder
	b.Grow(len(hex) / 2)
	for i := 0; i < len(hex); i += 2 {
		hi, okHi := hexVal(hex[i])
		lo, okLo := hexVal(hex[i+1])
		if !okHi || !okLo {
			b.WriteRune('�')
			continue
		}
		v := hi<<4 | lo
		if v > 0x7f {
			b.WriteRune('�')
			continue
		}
		b.WriteByte(v)
	}
	return b.String(), nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// ExtractFrame locates "EVT:RXP2P" in a raw line received from the modem
// and returns the hex payload carried in the fifth colon-separated token.
// present is false when the line does not carry an RXP2P event.
func ExtractFrame(line string) (present bool, hexPayload string) {
	if !strings.Contains(line, "EVT:RXP2P") {
		return false, ""
	}
	parts := strings.Split(line, ":")
	if len(parts) < 5 {
		return false, ""
	}
	return true, strings.TrimSpace(parts[4])
}
