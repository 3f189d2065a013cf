// Package security resolves the calling client of a request.
package security

import (
	"errors"

	"github.com/adyach/nakadi/internal/feature"
)

// ErrUnauthorized is returned when authentication is required but no
// principal was presented.
var ErrUnauthorized = errors.New("client unauthorized")

// UnauthenticatedClientID names the client used when no check applies.
const UnauthenticatedClientID = "unauthenticated"

// AuthMode controls whether anonymous requests are accepted.
type AuthMode string

const (
	AuthModeOff AuthMode = "off"
	AuthModeOn  AuthMode = "on"
)

// Client is the identity a request acts as.
type Client struct {
	ID string
	// FullAccess is set for the admin and for requests resolved while
	// application level permissions are not checked.
	FullAccess bool
}

// PermitAll is the client of unchecked requests.
var PermitAll = Client{ID: UnauthenticatedClientID, FullAccess: true}

// Settings configures a Resolver.
type Settings struct {
	AdminClientID string
	AuthMode      AuthMode
}

// Resolver turns an optional principal into a Client.
type Resolver struct {
	settings Settings
	toggles  *feature.Toggles
}

// NewResolver returns a Resolver.
func NewResolver(settings Settings, toggles *feature.Toggles) *Resolver {
	return &Resolver{settings: settings, toggles: toggles}
}

// Resolve maps principal (empty when absent) to a Client.
// The admin principal is recognised even when permissions are unchecked.
func (r *Resolver) Resolve(principal string) (Client, error) {
	if principal != "" && principal == r.settings.AdminClientID {
		return Client{ID: principal, FullAccess: true}, nil
	}
	if r.toggles == nil || !r.toggles.IsEnabled(feature.CheckApplicationLevelPermissions) {
		return PermitAll, nil
	}
	if principal != "" {
		return Client{ID: principal}, nil
	}
	if r.settings.AuthMode == AuthModeOff {
		return PermitAll, nil
	}
	return Client{}, ErrUnauthorized
}
