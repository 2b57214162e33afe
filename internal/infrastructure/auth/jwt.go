package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/pkg/clock"
)

type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
	Leeway     time.Duration
}

// Claims represents JWT payload for authenticated users.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"name"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	cfg   JWTConfig
	clock clock.Clock
}

func NewJWTVerifier(cfg JWTConfig, c clock.Clock) *JWTVerifier {
	if c == nil {
		c = clock.Real()
	}
	return &JWTVerifier{cfg: cfg, clock: c}
}

// Issue signs a token for id. It backs the development token endpoint and
// tests; production tokens come from the account service.
func (v *JWTVerifier) Issue(id domain.Identity) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(v.cfg.Expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.cfg.Issuer,
			Subject:   id.UserID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(v.cfg.Secret))
}

func (v *JWTVerifier) Verify(tokenString string) (*domain.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return []byte(v.cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidCredential
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, domain.ErrCredentialMalformed
	}

	return &domain.Identity{UserID: userID, DisplayName: claims.Username}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.ErrCredentialExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.ErrSignatureMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return domain.ErrCredentialMalformed
	default:
		return fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}
}
