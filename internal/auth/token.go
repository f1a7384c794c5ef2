package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the user behind an access token.
type Claims struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
	Role string `json:"role"`
	Unit string `json:"unit,omitempty"`
	Exp  int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrMissingToken = errors.New("missing token")
)

const issuer = "newsroom"

type tokenClaims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	Unit string `json:"unit,omitempty"`
	jwt.RegisteredClaims
}

// Verifier issues and checks HS256 access tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret, now: time.Now}
}

// WithClock returns a copy of v that reads the current time from now.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	return &Verifier{secret: v.secret, now: now}
}

func (v *Verifier) Issue(claims Claims) (string, error) {
	tc := tokenClaims{
		Name: claims.Name,
		Role: claims.Role,
		Unit: claims.Unit,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  claims.Sub,
			IssuedAt: jwt.NewNumericDate(v.now()),
		},
	}
	if claims.Exp != 0 {
		tc.ExpiresAt = jwt.NewNumericDate(time.Unix(claims.Exp, 0))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (v *Verifier) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	},
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	tc, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || tc.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{
		Sub:  tc.Subject,
		Name: tc.Name,
		Role: tc.Role,
		Unit: tc.Unit,
		Exp:  tc.ExpiresAt.Unix(),
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
