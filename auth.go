package siox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Handshake is what a client presents when it connects to a namespace.
type Handshake struct {
	Header     http.Header
	Query      url.Values
	RemoteAddr string
	// Auth is the payload of the CONNECT packet.
	Auth map[string]any
}

func newHandshake(r *http.Request, auth map[string]any) Handshake {
	hs := Handshake{Auth: auth}
	if r != nil {
		hs.Header = r.Header
		hs.Query = r.URL.Query()
		hs.RemoteAddr = r.RemoteAddr
	}
	return hs
}

// IdentityFunc resolves the identity of a connecting client. A nil identity
// with a nil error means the client is anonymous.
type IdentityFunc func(ctx context.Context, hs Handshake) (map[string]any, error)

// UserRoom returns the room every connection of an authenticated user joins
// in a protected namespace. Numbers decoded from JSON format like the
// integers they hold, so UserRoom(float64(12345678)) == UserRoom(12345678).
func UserRoom(id any) string {
	return "user-" + formatID(id)
}

func formatID(id any) string {
	switch v := id.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	case string:
		return v
	}
	return fmt.Sprint(id)
}

// AuthPayload uses the CONNECT auth payload itself as the identity. It is
// meant for tests and trusted networks.
func AuthPayload(_ context.Context, hs Handshake) (map[string]any, error) {
	return hs.Auth, nil
}

var errNoToken = errors.New("siox: no bearer token")

// JWTIdentity verifies a bearer token and returns its claims as the
// identity. When the subject claim is an object, that object is the
// identity. The token is read from the auth payload "token" key, then the
// Authorization header, then the "token" query parameter. A missing token
// yields an anonymous identity.
func JWTIdentity(keyFunc jwt.Keyfunc, opts ...jwt.ParserOption) IdentityFunc {
	return func(_ context.Context, hs Handshake) (map[string]any, error) {
		raw, err := bearerToken(hs)
		if errors.Is(err, errNoToken) {
			return nil, nil
		}

		claims := jwt.MapClaims{}
		if _, err := jwt.ParseWithClaims(raw, claims, keyFunc, opts...); err != nil {
			return nil, fmt.Errorf("siox: verify token: %w", err)
		}
		if sub, ok := claims["sub"].(map[string]any); ok {
			return sub, nil
		}
		return claims, nil
	}
}

func bearerToken(hs Handshake) (string, error) {
	if tok, ok := hs.Auth["token"].(string); ok && tok != "" {
		return tok, nil
	}
	if h := hs.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok && tok != "" {
			return tok, nil
		}
	}
	if tok := hs.Query.Get("token"); tok != "" {
		return tok, nil
	}
	return "", errNoToken
}
