// Package auth verifies the signed identity tokens presented by clients.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification outcomes callers must tell apart. Expired tokens force a
// re-login; malformed ones are downgraded to anonymous access upstream.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
)

// signingAlgorithm is the only algorithm accepted by Verify.
const signingAlgorithm = "HS256"

// UserID is the profile id carried in the user_id claim. Issuers encode it
// either as a JSON number or as a numeric string; both are accepted.
type UserID int64

// UnmarshalJSON implements json.Unmarshaler.
func (u *UserID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	*u = UserID(n)
	return nil
}

// Claims is the token payload (profile id + registered claims).
type Claims struct {
	UserID               UserID `json:"user_id"`
	jwt.RegisteredClaims        // ExpiresAt is required, IssuedAt optional
}

// TokenCodec validates HMAC-signed tokens. It can hold several keys so a
// secret can be rotated without invalidating tokens issued under the old one.
type TokenCodec struct {
	keys      map[string][]byte // kid -> secret
	activeKid string            // kid used by Issue and for tokens without a kid header
	rotating  bool              // false when built from a single secret
	parser    *jwt.Parser
}

// NewTokenCodec returns a codec using a single shared secret. The kid header,
// if any, is ignored.
func NewTokenCodec(secret string) *TokenCodec {
	c := newCodec(map[string]string{"": secret}, "")
	c.rotating = false
	return c
}

// NewTokenCodecFromKeys returns a codec that selects the verification key from
// the token's kid header. Tokens without a kid are checked against activeKid.
func NewTokenCodecFromKeys(keys map[string]string, activeKid string) *TokenCodec {
	return newCodec(keys, activeKid)
}

func newCodec(keys map[string]string, activeKid string) *TokenCodec {
	// HMAC keys are raw bytes
	km := make(map[string][]byte, len(keys))
	for kid, secret := range keys {
		km[kid] = []byte(secret)
	}
	return &TokenCodec{
		keys:      km,
		activeKid: activeKid,
		rotating:  true,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingAlgorithm}), // Reject "none" and RS/ES tokens
			jwt.WithExpirationRequired(),                     // Tokens without exp never verify
		),
	}
}

// Verify parses tokenString, checks its signature and expiry, and returns the
// claims. The error is ErrTokenExpired or wraps ErrTokenMalformed.
func (c *TokenCodec) Verify(tokenString string) (*Claims, error) {
	// Empty claims struct; the parser fills it from the token payload
	claims := &Claims{}

	// Signature is checked before claims, so an expired token signed with a
	// foreign key reports as malformed rather than expired.
	_, err := c.parser.ParseWithClaims(tokenString, claims, c.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	// A valid signature with no subject is still useless to us
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user_id", ErrTokenMalformed)
	}
	return claims, nil
}

func (c *TokenCodec) keyFunc(token *jwt.Token) (interface{}, error) {
	if !c.rotating {
		return c.keys[""], nil
	}

	// Tokens minted before rotation carry no kid
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		kid = c.activeKid
	}
	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return key, nil
}

// Issue mints a token for userID valid for ttl. Tokens are normally issued by
// the external identity service; this exists for tests and local tooling.
func (c *TokenCodec) Issue(userID int64, ttl time.Duration) (string, time.Time, error) {
	// Calculate when this token will expire (current time + ttl)
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID: UserID(userID),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// HS256 (HMAC with SHA-256), the only method Verify accepts
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	// Single-secret codecs sign without a kid header
	key := c.keys[""]
	if c.rotating {
		token.Header["kid"] = c.activeKid
		key = c.keys[c.activeKid]
	}

	tokenString, err := token.SignedString(key)
	if err != nil {
		return "", time.Time{}, err // Return empty string and zero time on error
	}
	return tokenString, expiresAt, nil
}
