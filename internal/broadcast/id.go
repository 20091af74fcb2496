package broadcast

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewCallID returns "CALL" + unix milliseconds + five upper-case alphanumerics.
func NewCallID(now time.Time) string {
	var b strings.Builder
	b.WriteString("CALL")
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))

	var buf [5]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// fall back to uuid entropy; crypto/rand failing is not expected
		u := uuid.New()
		copy(buf[:], u[:5])
	}
	for _, x := range buf {
		b.WriteByte(idAlphabet[int(x)%len(idAlphabet)])
	}
	return b.String()
}
