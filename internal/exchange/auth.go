package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
)

// Credentials is one API key/secret pair, scoped to either read-only or
// read-write access for a single account. The secret is base64-encoded,
// as Kraken issues it.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Empty reports whether no credential has been configured.
func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == ""
}

// Auth signs private REST requests using Kraken's nonce + HMAC-SHA512
// scheme: API-Sign = HMAC-SHA512(base64Decode(secret), path + SHA256(nonce + postdata)).
type Auth struct {
	creds  Credentials
	nonces *NonceStore
}

// NewAuth builds an Auth for one credential pair, using store to hand out
// nonces for this key.
func NewAuth(creds Credentials, store *NonceStore) *Auth {
	return &Auth{creds: creds, nonces: store}
}

// sign computes the API-Sign header value for a private POST request to
// urlPath (e.g. "/0/private/AddOrder"): the raw nonce string is prepended
// to the form-encoded postdata before the inner SHA256.
func (a *Auth) sign(urlPath, nonce, postdata string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(a.creds.APISecret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}

	shaSum := sha256.Sum256([]byte(nonce + postdata))

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(urlPath))
	mac.Write(shaSum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Headers returns the API-Key/API-Sign header pair for a private request.
// nonce is the same value included as "nonce=<nonce>" in formBody; Kraken
// hashes it a second time, prepended to the body.
func (a *Auth) Headers(urlPath, nonce, formBody string) (map[string]string, error) {
	sig, err := a.sign(urlPath, nonce, formBody)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"API-Key":  a.creds.APIKey,
		"API-Sign": sig,
	}, nil
}

// NextNonce mints the next nonce for this credential's API key.
func (a *Auth) NextNonce() int64 {
	return a.nonces.Next(a.creds.APIKey)
}
