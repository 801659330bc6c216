// Package qrtoken mints and verifies the short-lived tokens rendered as
// check-in QR codes. Two wire formats are accepted: the canonical HMAC-signed
// token, and the legacy unsigned base64-JSON payload that older mobile app
// builds embed into a check-in URL.
package qrtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification failures. Expiry is evaluated against wall-clock time at
// verification, never against a stored snapshot.
var (
	ErrExpired      = errors.New("qr code has expired")
	ErrMalformed    = errors.New("invalid qr code")
	ErrBadSignature = errors.New("qr code signature invalid")
)

// Payload is the verified content of a check-in token.
type Payload struct {
	SessionID string
	Nonce     string
	ExpiresAt time.Time
}

type signedClaims struct {
	SessionID string `json:"sid"`
	Nonce     string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// Codec issues and verifies signed check-in tokens with a shared secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
}

// NewCodec creates a codec. ttl bounds the lifetime of issued tokens.
func NewCodec(secret string, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Codec{secret: []byte(secret), ttl: ttl}
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue mints the shared session token displayed when a teacher starts a
// session. It carries no nonce: the whole class scans the same QR, and
// identity, enrollment and the short expiry are the gates.
func (c *Codec) Issue(sessionID string) (string, error) {
	return c.sign(sessionID, "", c.ttl)
}

// IssueSingleUse mints a nonce-bearing token for the auto-refreshing QR flow,
// where every rendered code is unique and consumed by exactly one check-in.
func (c *Codec) IssueSingleUse(sessionID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.sign(sessionID, uuid.NewString(), ttl)
}

func (c *Codec) sign(sessionID, nonce string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := signedClaims{
		SessionID: sessionID,
		Nonce:     nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify checks the signature and expiry of a signed token and returns its
// payload. The legacy base64-JSON format is tried first when the input does
// not look like a signed token.
func (c *Codec) Verify(token string) (Payload, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Payload{}, ErrMalformed
	}
	if !looksSigned(token) {
		return DecodeLegacy(token)
	}

	parsed, err := jwt.ParseWithClaims(token, &signedClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrBadSignature
		}
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Payload{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return Payload{}, ErrBadSignature
		default:
			return Payload{}, ErrMalformed
		}
	}
	claims, ok := parsed.Claims.(*signedClaims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return Payload{}, ErrMalformed
	}
	return Payload{
		SessionID: claims.SessionID,
		Nonce:     claims.Nonce,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// legacyPayload is the unsigned JSON the original mobile app encodes.
type legacyPayload struct {
	SessionID string `json:"sessionId"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"` // epoch millis
}

// DecodeLegacy decodes the unsigned base64-JSON payload, either bare or
// embedded in a check-in link as the payload query parameter. Trust for this
// format is anchored by the replay guard and session state, not a signature.
func DecodeLegacy(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "payload="); i >= 0 {
		raw = raw[i+len("payload="):]
		if j := strings.IndexByte(raw, '&'); j >= 0 {
			raw = raw[:j]
		}
		if unescaped, err := url.QueryUnescape(raw); err == nil {
			raw = unescaped
		}
	}

	// Query parsing turns '+' into spaces; base64 has no spaces, so restore.
	raw = strings.ReplaceAll(raw, " ", "+")

	data, err := decodeBase64(raw)
	if err != nil {
		return Payload{}, ErrMalformed
	}
	var p legacyPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		return Payload{}, ErrMalformed
	}
	exp := time.UnixMilli(p.ExpiresAt)
	if p.ExpiresAt == 0 || time.Now().After(exp) {
		return Payload{}, ErrExpired
	}
	return Payload{SessionID: p.SessionID, Nonce: p.Nonce, ExpiresAt: exp}, nil
}

// EncodeLegacy produces the unsigned base64-JSON payload. Kept for the
// auto-refresh flow where the server renders the rotating QR itself.
func EncodeLegacy(sessionID string, ttl time.Duration) string {
	p := legacyPayload{
		SessionID: sessionID,
		Nonce:     uuid.NewString(),
		ExpiresAt: time.Now().Add(ttl).UnixMilli(),
	}
	data, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(data)
}

// looksSigned distinguishes the three-part signed token from a single base64
// blob. A legacy payload contains no dots (standard base64 alphabet).
func looksSigned(token string) bool {
	return strings.Count(token, ".") == 2
}

func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, ErrMalformed
}
