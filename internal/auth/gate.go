// Package auth decides whether a caller may act as a given kiosk or game client.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	ScopeKiosk = "kiosk"
	ScopeGame  = "game"

	// HeaderAPIKey carries a per-device shared key.
	HeaderAPIKey = "X-API-Key"
)

// Credential is whatever the caller presented on the request.
type Credential struct {
	APIKey string
	Bearer string
}

// CredentialFromRequest reads X-API-Key and a Bearer Authorization header.
func CredentialFromRequest(r *http.Request) Credential {
	cred := Credential{APIKey: r.Header.Get(HeaderAPIKey)}
	if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
		cred.Bearer = parts[1]
	}
	return cred
}

// Gate is the credential check consumed by the orchestration HTTP surface.
type Gate interface {
	AllowKiosk(cred Credential, kioskID string) bool
	AllowGame(cred Credential, gameID string) bool
}

// DeviceGate accepts either the device's configured API key or a bearer token
// whose scope and entity_id claims name the device.
type DeviceGate struct {
	kioskKeys map[string]string
	gameKeys  map[string]string
	jwt       *JWTService
}

// NewDeviceGate creates a gate. jwtService may be nil to disable bearer tokens.
func NewDeviceGate(kioskKeys, gameKeys map[string]string, jwtService *JWTService) *DeviceGate {
	return &DeviceGate{kioskKeys: kioskKeys, gameKeys: gameKeys, jwt: jwtService}
}

func (g *DeviceGate) AllowKiosk(cred Credential, kioskID string) bool {
	return g.allow(cred, ScopeKiosk, kioskID, g.kioskKeys)
}

func (g *DeviceGate) AllowGame(cred Credential, gameID string) bool {
	return g.allow(cred, ScopeGame, gameID, g.gameKeys)
}

func (g *DeviceGate) allow(cred Credential, scope, id string, keys map[string]string) bool {
	if cred.APIKey != "" {
		if expected, ok := keys[id]; ok && expected != "" &&
			subtle.ConstantTimeCompare([]byte(cred.APIKey), []byte(expected)) == 1 {
			return true
		}
	}
	if cred.Bearer != "" && g.jwt != nil {
		claims, err := g.jwt.Validate(cred.Bearer)
		if err == nil && claims.Scope == scope && claims.EntityID == id {
			return true
		}
	}
	return false
}
