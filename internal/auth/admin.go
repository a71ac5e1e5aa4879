package auth

import (
	"crypto/subtle"
	"fmt"

	"github.com/arcade-kiosk/server/pkg/utils"
)

// AdminAuth checks HTTP basic credentials for operator endpoints. The password
// is kept only as a bcrypt hash.
type AdminAuth struct {
	username string
	hash     string
}

// NewAdminAuth hashes password once at startup.
func NewAdminAuth(username, password string) (*AdminAuth, error) {
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	return &AdminAuth{username: username, hash: hash}, nil
}

// Check reports whether the basic credentials match.
func (a *AdminAuth) Check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := utils.CheckPassword(password, a.hash)
	return userOK && passOK
}
