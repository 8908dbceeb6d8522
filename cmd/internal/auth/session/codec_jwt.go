package session

import (
	"crypto/rand"

	"github.com/golang-jwt/jwt/v5"
)

const minJWTSecretBytes = 32

type jwtCodec struct {
	issuer string
	secret []byte
}

// jwtClaims carries the user in "sub" and the token kind in "type".
type jwtClaims struct {
	jwt.RegisteredClaims
	Type    string `json:"type"`
	EntryID string `json:"eid"`
}

func newJWTCodec(issuer, secret string, allowEphemeral bool) (*jwtCodec, bool, error) {
	if secret == "" {
		if !allowEphemeral {
			return nil, false, ErrConfig
		}
		key := make([]byte, minJWTSecretBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, false, err
		}
		return &jwtCodec{issuer: issuer, secret: key}, true, nil
	}
	if len(secret) < minJWTSecretBytes {
		return nil, false, ErrConfig
	}
	return &jwtCodec{issuer: issuer, secret: []byte(secret)}, false, nil
}

func (j *jwtCodec) Sign(c Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   c.UserID,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			NotBefore: jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
		Type:    string(c.Kind),
		EntryID: c.EntryID,
	})
	return tok.SignedString(j.secret)
}

func (j *jwtCodec) Parse(token string) (Claims, error) {
	var jc jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &jc, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if jc.Issuer != j.issuer || jc.ExpiresAt == nil || jc.IssuedAt == nil {
		return Claims{}, ErrInvalidToken
	}

	c := Claims{
		Kind:      TokenKind(jc.Type),
		UserID:    jc.Subject,
		EntryID:   jc.EntryID,
		Issuer:    jc.Issuer,
		IssuedAt:  jc.IssuedAt.Time,
		ExpiresAt: jc.ExpiresAt.Time,
	}
	if !c.validShape() {
		return Claims{}, ErrInvalidToken
	}
	return c, nil
}
