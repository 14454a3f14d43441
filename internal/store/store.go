// Package store keeps live sessions. Every write is checked against the
// version the writer read; a mismatch is rejected with ErrStaleVersion and
// the caller re-reads and retries through Mutate.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/elmedianur/deutsche/internal/game"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrExists       = errors.New("session already exists")
	ErrStaleVersion = errors.New("stale session version")
)

type Store interface {
	Get(ctx context.Context, id string) (*game.Session, error)
	// Create stores a new session at version 1.
	Create(ctx context.Context, s *game.Session) error
	// Update writes s if the stored version still equals s.Version, then
	// bumps s.Version to the written version.
	Update(ctx context.Context, s *game.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*game.Session, error)
}

const (
	mutateAttempts = 10
	mutateBackoff  = 5 * time.Millisecond
)

// Mutate reads the session, applies fn and writes it back, retrying on stale
// versions. An error from fn aborts without writing and is returned as is.
func Mutate(ctx context.Context, st Store, id string, fn func(s *game.Session) error) (*game.Session, error) {
	b := retry.WithMaxRetries(mutateAttempts, retry.NewConstant(mutateBackoff))

	var out *game.Session
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		s, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		if err := st.Update(ctx, s); err != nil {
			if errors.Is(err, ErrStaleVersion) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mutate session %s: %w", id, err)
	}
	return out, nil
}
