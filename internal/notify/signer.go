package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureClaims bind a webhook token to one delivery.
type SignatureClaims struct {
	RuleID     string `json:"rule_id"`
	BodySHA256 string `json:"body_sha256"`
	jwt.RegisteredClaims
}

// Signer issues HS256 tokens receivers can check with the shared secret.
type Signer struct {
	secret []byte
}

// NewSigner returns nil for an empty secret, which disables signing.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Sign(tenantID, ruleID string, body []byte, issuedAt time.Time) (string, error) {
	claims := SignatureClaims{
		RuleID:     ruleID,
		BodySHA256: bodyDigest(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			Issuer:    "agentpulse",
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(10 * time.Minute)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign webhook: %w", err)
	}
	return token, nil
}

// Verify parses token and checks that it was issued for body.
func (s *Signer) Verify(token string, body []byte) (*SignatureClaims, error) {
	claims := &SignatureClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid signature")
	}
	if claims.BodySHA256 != bodyDigest(body) {
		return nil, errors.New("signature does not match body")
	}
	return claims, nil
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
