// Package signing implements the timestamped HMAC tokens that bind a function
// dispatch to its session: the dispatcher signs the session id into the
// Authorization header, and the callback channel will only accept a connection
// presenting an unexpired token for the session in its URL.
package signing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/apiforllm/chat-server-go/internal/util"
)

var (
	ErrBadSignature = errors.New("signing: bad signature")
	ErrExpired      = errors.New("signing: token expired")
)

type Signer struct {
	secret string
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign produces "value:timestamp:signature". value must not contain a colon.
func (s *Signer) Sign(value string) string {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	payload := value + ":" + ts
	return payload + ":" + util.HmacSHA256(s.secret, payload)
}

// Unsign verifies the signature and the age of a token and returns the
// original value. Signature checks run before age checks so a forged
// timestamp cannot disguise itself as merely expired.
func (s *Signer) Unsign(token string, maxAge time.Duration) (string, error) {
	idx := strings.LastIndex(token, ":")
	if idx < 0 {
		return "", ErrBadSignature
	}
	payload, sig := token[:idx], token[idx+1:]

	if !util.ConstantTimeEqual(util.HmacSHA256(s.secret, payload), sig) {
		return "", ErrBadSignature
	}

	tsIdx := strings.LastIndex(payload, ":")
	if tsIdx < 0 {
		return "", ErrBadSignature
	}
	value, tsStr := payload[:tsIdx], payload[tsIdx+1:]

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return "", ErrBadSignature
	}

	age := s.now().Sub(time.Unix(ts, 0))
	if age > maxAge {
		return "", fmt.Errorf("%w: age %s exceeds %s", ErrExpired, age, maxAge)
	}

	return value, nil
}
