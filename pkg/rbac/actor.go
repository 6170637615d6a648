package rbac

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ActorHeader is the HTTP header used by the default extractor to identify
// the acting user. Development/testing only; production deployments should
// wire the JWT extractor.
const ActorHeader = "X-Acting-User"

// ActorExtractor resolves the acting username from an HTTP request. An empty
// return means the request carries no usable identity.
type ActorExtractor func(r *http.Request) string

// DefaultActorExtractor reads the acting username from the X-Acting-User
// header.
func DefaultActorExtractor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

// JWTActorExtractorConfig configures the JWT-based actor extractor.
type JWTActorExtractorConfig struct {
	// UsernameClaim is the JWT claim holding the username. Supports
	// dot-notation for nested claims. Default: "preferred_username",
	// falling back to "sub".
	UsernameClaim string

	// PublicKeyPath is the path to the PEM-encoded RSA public key for RS256
	// verification. If empty, tokens are parsed but NOT verified (suitable
	// only behind a trusted authenticating proxy).
	PublicKeyPath string

	// Issuer is the expected token issuer. If empty, issuer is not validated.
	Issuer string

	// Audience is the expected token audience. If empty, audience is not
	// validated.
	Audience string

	// Logger for diagnostics. If nil, uses slog.Default().
	Logger *slog.Logger
}

// NewJWTActorExtractor creates an ActorExtractor that reads the acting
// username from JWT Bearer tokens. Missing or invalid tokens resolve to an
// empty username, which handlers reject as unauthenticated.
func NewJWTActorExtractor(cfg JWTActorExtractorConfig) (ActorExtractor, error) {
	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = "preferred_username"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var publicKey *rsa.PublicKey
	if cfg.PublicKeyPath != "" {
		keyData, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read JWT public key from %s: %w", cfg.PublicKeyPath, err)
		}
		block, _ := pem.Decode(keyData)
		if block == nil {
			return nil, fmt.Errorf("decode PEM block from %s", cfg.PublicKeyPath)
		}
		parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		rsaKey, ok := parsedKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA (got %T)", parsedKey)
		}
		publicKey = rsaKey
		cfg.Logger.Info("JWT actor extractor: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("JWT actor extractor: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}

	return func(r *http.Request) string {
		token := extractBearerToken(r)
		if token == "" {
			return ""
		}
		claims, err := parseJWTClaims(token, publicKey, cfg)
		if err != nil {
			cfg.Logger.Debug("JWT parse failed", "error", err)
			return ""
		}
		if username := nestedClaim(claims, cfg.UsernameClaim); username != "" {
			return username
		}
		return nestedClaim(claims, "sub")
	}, nil
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func parseJWTClaims(tokenString string, publicKey *rsa.PublicKey, cfg JWTActorExtractorConfig) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}

	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	if publicKey == nil {
		parser := jwt.NewParser(opts...)
		if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
			return nil, err
		}
		return claims, nil
	}

	opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return publicKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// nestedClaim resolves a dot-notation claim path to its string value.
func nestedClaim(claims jwt.MapClaims, path string) string {
	var current any = map[string]any(claims)
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = obj[segment]
		if !ok {
			return ""
		}
	}
	s, _ := current.(string)
	return s
}
