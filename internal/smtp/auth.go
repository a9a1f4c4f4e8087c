// Package smtp implements the SMTP front end: listener, session state machine
// and AUTH handling. Accepted messages are handed to a provider.Provider.
package smtp

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrAuthFailed is returned when credentials do not match.
var ErrAuthFailed = errors.New("authentication failed")

// Authenticator checks SMTP AUTH credentials against a single configured user.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator. Authentication is disabled when
// either value is empty.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
	}
}

// Enabled reports whether clients must authenticate.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// VerifyPlain checks an AUTH PLAIN response, base64("authzid\0authcid\0password").
// The authorization identity is ignored.
func (a *Authenticator) VerifyPlain(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid base64 encoding: %w", err)
	}

	parts := strings.SplitN(string(decoded), "\x00", 3)
	if len(parts) != 3 {
		return fmt.Errorf("invalid AUTH PLAIN format")
	}
	return a.check(parts[1], parts[2])
}

// VerifyLogin checks the base64 username and password collected by AUTH LOGIN.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return fmt.Errorf("invalid base64 username: %w", err)
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return fmt.Errorf("invalid base64 password: %w", err)
	}
	return a.check(string(user), string(pass))
}

func (a *Authenticator) check(user, pass string) error {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.password)) == 1
	if !userOK || !passOK {
		return ErrAuthFailed
	}
	return nil
}
