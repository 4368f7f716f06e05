package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
)

var ErrInvalidCookie = errors.New("invalid signed cookie")

// CookieCodec signs and verifies the refresh-token transport cookie. The
// cookie value is base64url(token) + "." + base64url(HMAC-SHA256(key,
// salt || "." || token)), so a tampered or forged value fails verification
// before any store lookup happens.
type CookieCodec struct {
	name   string
	path   string
	salt   string
	key    []byte
	maxAge time.Duration
	secure bool
}

func NewCookieCodec(name, path, key, salt string, maxAge time.Duration, secure bool) *CookieCodec {
	return &CookieCodec{
		name:   name,
		path:   path,
		salt:   salt,
		key:    []byte(key),
		maxAge: maxAge,
		secure: secure,
	}
}

func (c *CookieCodec) Name() string { return c.name }
func (c *CookieCodec) Path() string { return c.path }

func (c *CookieCodec) Encode(token string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(token))
	return payload + "." + base64.RawURLEncoding.EncodeToString(c.sign(token))
}

func (c *CookieCodec) Decode(value string) (string, error) {
	payload, sig, ok := strings.Cut(value, ".")
	if !ok {
		return "", ErrInvalidCookie
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrInvalidCookie
	}
	gotSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", ErrInvalidCookie
	}
	token := string(raw)
	if !hmac.Equal(gotSig, c.sign(token)) {
		return "", ErrInvalidCookie
	}
	return token, nil
}

// Set writes the signed refresh-token cookie. HttpOnly and SameSite=Strict
// keep the value out of reach of client-side script.
func (c *CookieCodec) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    c.Encode(token),
		Path:     c.path,
		MaxAge:   int(c.maxAge.Seconds()),
		Expires:  time.Now().Add(c.maxAge),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Clear expires the cookie immediately. Every failure path that touches the
// transport cookie goes through here so a broken session cannot retry-loop.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     c.path,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Read extracts and verifies the refresh token from the request cookie jar.
func (c *CookieCodec) Read(r *http.Request) (string, error) {
	raw := GetCookie(r, c.name)
	if raw == "" {
		return "", ErrInvalidCookie
	}
	return c.Decode(raw)
}

func (c *CookieCodec) sign(token string) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(c.salt))
	mac.Write([]byte{'.'})
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

func GetCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
