package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies passwords with bcrypt on a bounded
// blocking-work pool. bcrypt is deliberately CPU-slow, so the work is kept off
// the goroutines serving I/O: callers block on a result channel and can give
// up via their context while the hash finishes in the background.
type PasswordHasher struct {
	cost  int
	slots chan struct{}
}

// NewPasswordHasher creates a hasher with the given bcrypt cost factor and at
// most maxConcurrent hashes in flight. Out-of-range costs fall back to the
// bcrypt default.
func NewPasswordHasher(cost, maxConcurrent int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &PasswordHasher{
		cost:  cost,
		slots: make(chan struct{}, maxConcurrent),
	}
}

// Hash derives a bcrypt hash for the given password.
func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	type result struct {
		hash []byte
		err  error
	}

	select {
	case h.slots <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("hash password: %w", ctx.Err())
	}

	ch := make(chan result, 1)
	go func() {
		defer func() { <-h.slots }()
		hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
		ch <- result{hash: hash, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("hash password: %w", res.err)
		}
		return string(res.hash), nil
	case <-ctx.Done():
		return "", fmt.Errorf("hash password: %w", ctx.Err())
	}
}

// Verify reports whether the password matches the stored hash. Malformed hash
// strings fail closed: they are reported as a non-match, never as a
// distinguishable error.
func (h *PasswordHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	select {
	case h.slots <- struct{}{}:
	case <-ctx.Done():
		return false, fmt.Errorf("verify password: %w", ctx.Err())
	}

	ch := make(chan bool, 1)
	go func() {
		defer func() { <-h.slots }()
		ch <- bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	}()

	select {
	case ok := <-ch:
		return ok, nil
	case <-ctx.Done():
		return false, fmt.Errorf("verify password: %w", ctx.Err())
	}
}
