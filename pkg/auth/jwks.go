package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ekaya-inc/substation-labeler/pkg/config"
)

// JWKSClientInterface validates tokens. Tests substitute a fake.
type JWKSClientInterface interface {
	ValidateToken(tokenString string) (*Claims, error)
	Close()
}

// JWKSClient validates JWTs against the JWKS of whitelisted issuers.
// With verification disabled it only parses the token, for local development.
type JWKSClient struct {
	endpoints map[string]keyfunc.Keyfunc
	verify    bool
	cancel    context.CancelFunc
}

// NewJWKSClient loads the JWKS of every configured issuer.
// The key sets refresh in the background until Close is called.
func NewJWKSClient(ctx context.Context, cfg *config.AuthConfig) (*JWKSClient, error) {
	client := &JWKSClient{
		endpoints: make(map[string]keyfunc.Keyfunc),
		verify:    cfg.EnableVerification,
	}
	if !client.verify {
		return client, nil
	}
	if len(cfg.JWKSEndpoints) == 0 {
		return nil, errors.New("auth verification is enabled but no JWKS endpoints are configured")
	}

	ctx, client.cancel = context.WithCancel(ctx)
	for issuer, jwksURL := range cfg.JWKSEndpoints {
		jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
		if err != nil {
			client.cancel()
			return nil, fmt.Errorf("failed to create JWKS client for %s: %w", issuer, err)
		}
		client.endpoints[issuer] = jwks
	}

	return client, nil
}

func (c *JWKSClient) ValidateToken(tokenString string) (*Claims, error) {
	if !c.verify {
		return parseUnverified(tokenString)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, errors.New("invalid claims type")
		}

		jwks, exists := c.endpoints[claims.Issuer]
		if !exists {
			return nil, fmt.Errorf("unauthorized issuer: %s", claims.Issuer)
		}
		return jwks.Keyfunc(token)
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

func parseUnverified(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

// Close stops background key refresh.
func (c *JWKSClient) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

var _ JWKSClientInterface = (*JWKSClient)(nil)
