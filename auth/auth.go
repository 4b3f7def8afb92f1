// Package auth verifies control connection credentials. It provides a
// bcrypt-backed user table and a caching wrapper that keeps recent
// verification verdicts in memory or in Redis, so repeated logins do not
// pay the bcrypt cost each time.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Authenticator decides whether a username/password pair is accepted.
// A rejection is (false, nil); an error means the decision could not be made.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, username, password string) (bool, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, username, password string) (bool, error) {
	return f(ctx, username, password)
}

// User is one entry of the users file.
type User struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
}

type usersFile struct {
	Users []User `yaml:"users"`
}

// Static authenticates against a fixed table of bcrypt password hashes.
// It is read-only after construction and safe for concurrent use.
type Static struct {
	hashes map[string][]byte
}

// NewStatic builds a Static authenticator from users.
//
// Parameters:
//   - users: The user table; names must be unique and non-empty
//
// Returns:
//   - The authenticator, or an error for duplicate or empty names and
//     hashes that are not bcrypt hashes
func NewStatic(users []User) (*Static, error) {
	s := &Static{hashes: make(map[string][]byte, len(users))}
	for _, u := range users {
		if u.Name == "" {
			return nil, errors.New("user with empty name")
		}

		if _, dup := s.hashes[u.Name]; dup {
			return nil, fmt.Errorf("duplicate user %q", u.Name)
		}

		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %q: invalid password hash: %w", u.Name, err)
		}

		s.hashes[u.Name] = []byte(u.PasswordHash)
	}

	return s, nil
}

// LoadUsersFile reads a YAML users file of the form
//
//	users:
//	  - name: alice
//	    password_hash: "$2a$10$..."
//
// and returns a Static authenticator for it.
func LoadUsersFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse users file %s: %w", path, err)
	}

	return NewStatic(f.Users)
}

// Authenticate implements Authenticator.
func (s *Static) Authenticate(ctx context.Context, username, password string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	hash, ok := s.hashes[username]
	if !ok {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if err == nil {
		return true, nil
	}

	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}

	return false, fmt.Errorf("verify %q: %w", username, err)
}

// Len returns the number of known users.
func (s *Static) Len() int {
	return len(s.hashes)
}

// HashPassword returns the bcrypt hash of password for use in a users file.
//
// Parameters:
//   - password: The clear-text password
//   - cost: bcrypt cost; values below bcrypt.MinCost select bcrypt.DefaultCost
//
// Returns:
//   - The encoded hash
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(h), nil
}
