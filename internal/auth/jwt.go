package auth

import (
	"crypto/rsa"
	"errors"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator resolves a bearer token to the stable user id issued by the
// identity collaborator. The engine never authenticates; it only verifies.
type JWTValidator struct {
	alg    string
	pub    *rsa.PublicKey
	secret []byte
}

func NewJWTValidatorRS256(publicKeyPath string) (*JWTValidator, error) {
	b, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, err
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{alg: "RS256", pub: pub}, nil
}

func NewJWTValidatorHS256(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("empty hs256 secret")
	}
	return &JWTValidator{alg: "HS256", secret: []byte(secret)}, nil
}

// Validate returns the subject user id or an error for anything else.
func (j *JWTValidator) Validate(tokenStr string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if j.alg == "RS256" {
			return j.pub, nil
		}
		return j.secret, nil
	}, jwt.WithValidMethods([]string{j.alg}))
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", errors.New("invalid token")
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	if uid, ok := claims["user_id"].(string); ok && uid != "" {
		return uid, nil
	}
	return "", errors.New("token carries no subject")
}
