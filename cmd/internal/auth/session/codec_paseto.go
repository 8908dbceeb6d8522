package session

import (
	paseto "aidanwoods.dev/go-paseto"
)

type pasetoCodec struct {
	issuer string
	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

func newPasetoCodec(issuer, secretHex string, allowEphemeral bool) (*pasetoCodec, bool, error) {
	var (
		secret    paseto.V4AsymmetricSecretKey
		ephemeral bool
	)
	if secretHex == "" {
		if !allowEphemeral {
			return nil, false, ErrConfig
		}
		secret, ephemeral = paseto.NewV4AsymmetricSecretKey(), true
	} else {
		var err error
		if secret, err = paseto.NewV4AsymmetricSecretKeyFromHex(secretHex); err != nil {
			return nil, false, ErrConfig
		}
	}
	return &pasetoCodec{issuer: issuer, secret: secret, public: secret.Public()}, ephemeral, nil
}

func (p *pasetoCodec) Sign(c Claims) (string, error) {
	tok := paseto.NewToken()
	tok.SetIssuer(p.issuer)
	tok.SetIssuedAt(c.IssuedAt)
	tok.SetNotBefore(c.IssuedAt)
	tok.SetExpiration(c.ExpiresAt)
	tok.SetString("typ", string(c.Kind))
	tok.SetString("uid", c.UserID)
	tok.SetString("eid", c.EntryID)
	return tok.V4Sign(p.secret, nil), nil
}

func (p *pasetoCodec) Parse(token string) (Claims, error) {
	parser := paseto.NewParserWithoutExpiryCheck()
	parser.AddRule(paseto.IssuedBy(p.issuer))

	parsed, err := parser.ParseV4Public(p.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var c Claims
	c.Issuer, _ = parsed.GetIssuer()
	c.IssuedAt, _ = parsed.GetIssuedAt()
	c.ExpiresAt, _ = parsed.GetExpiration()
	kind, _ := parsed.GetString("typ")
	c.Kind = TokenKind(kind)
	c.UserID, _ = parsed.GetString("uid")
	c.EntryID, _ = parsed.GetString("eid")

	if !c.validShape() {
		return Claims{}, ErrInvalidToken
	}
	return c, nil
}
