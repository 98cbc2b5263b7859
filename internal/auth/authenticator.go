// Package auth issues and checks split session tokens and hashes account passwords.
//
// A token is a bcrypt hash of the account id. The hash is cut in two at the midpoint: the client
// keeps the first half as its cookie, the server keeps the second half. Neither half alone is
// enough to validate a session.
package auth

import (
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator keeps the server halves of issued tokens, keyed by account id.
//
// It is not safe for concurrent use; callers run it from the action queue.
type Authenticator struct {
	pepper string
	cost   int
	halves map[int]string
}

// New returns an Authenticator. A cost outside bcrypt's range uses bcrypt.DefaultCost.
func New(pepper string, cost int) *Authenticator {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Authenticator{
		pepper: pepper,
		cost:   cost,
		halves: make(map[int]string),
	}
}

func (a *Authenticator) secret(accountID int) []byte {
	return []byte(strconv.Itoa(accountID) + a.pepper)
}

// GenerateToken issues a new token for the account and returns the client half. Any previous
// token for the account stops validating.
func (a *Authenticator) GenerateToken(accountID int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(a.secret(accountID), a.cost)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	mid := len(hash) / 2
	a.halves[accountID] = string(hash[mid:])
	return string(hash[:mid]), nil
}

// ValidateCookie reports whether clientHalf joined with the stored server half is a valid hash
// of the account id.
func (a *Authenticator) ValidateCookie(accountID int, clientHalf string) bool {
	serverHalf, ok := a.halves[accountID]
	if !ok || clientHalf == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(clientHalf+serverHalf), a.secret(accountID)) == nil
}

// InvalidateToken drops the stored half; the account's cookie no longer validates.
func (a *Authenticator) InvalidateToken(accountID int) {
	delete(a.halves, accountID)
}

// RefreshToken drops any token the account holds and issues a new one. The old cookie stops
// validating even if generating the new token fails.
func (a *Authenticator) RefreshToken(accountID int) (string, error) {
	a.InvalidateToken(accountID)
	return a.GenerateToken(accountID)
}
