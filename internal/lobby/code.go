package lobby

import (
	"strings"

	"github.com/google/uuid"
)

// codeAlphabet leaves out 0/O and 1/I/L, which are easy to misread.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a room code.
const CodeLength = 6

// NewRoomCode returns a short shareable code drawn from a random UUID.
func NewRoomCode() string {
	id := uuid.New()
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		b.WriteByte(codeAlphabet[int(id[i])%len(codeAlphabet)])
	}
	return b.String()
}

// NormalizeCode upper-cases and trims a code typed by a user.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
