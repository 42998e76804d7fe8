package rotor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	pair, err := engine.Login(ctx, "alice")
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	fail := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if errors.Is(err, ErrReuseDetected) ||
			errors.Is(err, ErrFamilyInvalid) ||
			errors.Is(err, ErrTokenSuperseded) {
			fail++
			continue
		}
		t.Fatalf("unexpected refresh error: %v", err)
	}

	if success != 1 {
		t.Fatalf("expected exactly one refresh success, got %d", success)
	}
	if fail != n-1 {
		t.Fatalf("expected %d refresh failures, got %d", n-1, fail)
	}

	// at least one loser hit the reuse marker, so the cascade fired and
	// the user must now be fully logged out
	_, err = engine.Login(ctx, "alice")
	require.NoError(t, err, "user must be able to log in fresh after cascade")
}

func TestConcurrentRotationsOfDistinctSessions(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	const sessions = 8
	pairs := make([]*TokenPair, sessions)
	for i := range pairs {
		p, err := engine.Login(ctx, "bob")
		require.NoError(t, err)
		pairs[i] = p
	}

	var wg sync.WaitGroup
	wg.Add(sessions)
	results := make(chan error, sessions)
	for _, p := range pairs {
		p := p
		go func() {
			defer wg.Done()
			_, err := engine.Refresh(ctx, p.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	// independent sessions never contend: all rotations succeed
	for err := range results {
		require.NoError(t, err)
	}
}
