package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoUserID = errors.New("auth: user id not found in token")

// JWTVerifier verifies RS256 tokens issued by the external session service.
type JWTVerifier struct {
	pub *rsa.PublicKey
}

func NewJWTVerifier(pubPath string) (*JWTVerifier, error) {
	b, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return NewJWTVerifierFromPEM(b)
}

func NewJWTVerifierFromPEM(pem []byte) (*JWTVerifier, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTVerifier{pub: pub}, nil
}

// VerifyToken returns the user id carried in user_id, user_uuid or sub.
func (j *JWTVerifier) VerifyToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return j.pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return "", err
	}

	for _, key := range []string{"user_id", "user_uuid", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", ErrNoUserID
}
