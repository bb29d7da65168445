// Package identity resolves the calling subject from signed bearer tokens.
// The engine never authenticates users itself; it verifies tokens the
// surrounding application minted and hands the claims to pipeline steps.
package identity

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"data-engine/internal/common/errors"
	"data-engine/internal/common/validation"
	"data-engine/internal/pipeline"
)

const issuer = "data-engine"

// Identity is the verified caller
type Identity struct {
	Subject string
	Model   string
	Claims  map[string]interface{}
}

// ForPipeline converts the identity into the shape pipeline steps read.
func (i *Identity) ForPipeline() *pipeline.Identity {
	if i == nil {
		return nil
	}
	return &pipeline.Identity{
		Subject: i.Subject,
		Model:   i.Model,
		Claims:  i.Claims,
	}
}

// Claims is the engine token payload
type Claims struct {
	Model string                 `json:"model,omitempty"`
	Extra map[string]interface{} `json:"extra,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates and mints HS256 bearer tokens
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

// Config holds token verification settings
type Config struct {
	Secret string
	TTL    time.Duration
}

func NewVerifier(config Config) (*Verifier, error) {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	err := validation.NewValidatorWithPrefix("identity").
		RequireString(config.Secret, "secret").
		Validate(func() error {
			if config.Secret != "" && len(config.Secret) < 32 {
				return fmt.Errorf("identity: secret must be at least 32 bytes")
			}
			return nil
		}).
		Error()
	if err != nil {
		return nil, errors.ConfigurationError(err.Error())
	}

	return &Verifier{secret: []byte(config.Secret), ttl: config.TTL}, nil
}

// FromToken verifies a bearer token and returns the identity it carries.
func (v *Verifier) FromToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil {
		switch {
		case stderrors.Is(err, jwt.ErrTokenExpired):
			return nil, errors.ValidationError("bearer token has expired")
		case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, errors.ValidationError("bearer token signature is invalid")
		default:
			return nil, errors.ValidationError(fmt.Sprintf("bearer token rejected: %v", err))
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, errors.ValidationError("bearer token carries no subject")
	}

	return &Identity{
		Subject: claims.Subject,
		Model:   claims.Model,
		Claims:  claims.Extra,
	}, nil
}

// Issue mints a token for an identity, mirroring what FromToken accepts.
// Used by tests and by the smoke tooling; production tokens come from the
// surrounding application.
func (v *Verifier) Issue(id *Identity) (string, error) {
	if id == nil || id.Subject == "" {
		return "", errors.ValidationError("identity requires a subject")
	}

	now := time.Now()
	claims := &Claims{
		Model: id.Model,
		Extra: id.Claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}
