package ids

import (
	"crypto/rand"
	"regexp"

	"github.com/google/uuid"
)

const linkCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const linkCodeLength = 6

var linkCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// New returns an opaque random identifier, used for recording sessions and
// scratch file names.
func New() string {
	return uuid.NewString()
}

// NewLinkCode returns a 6-character uppercase alphanumeric code. Uniqueness
// is the caller's responsibility; collisions are checked against the link
// store at creation time.
func NewLinkCode() string {
	buf := make([]byte, linkCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	code := make([]byte, linkCodeLength)
	for i, b := range buf {
		code[i] = linkCodeAlphabet[int(b)%len(linkCodeAlphabet)]
	}
	return string(code)
}

// ValidLinkCode reports whether code has the shareable link-code format.
func ValidLinkCode(code string) bool {
	return linkCodePattern.MatchString(code)
}
