package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	name  string
	err   error
	delay time.Duration
}

func (s *stubChecker) Name() string { return s.name }

func (s *stubChecker) Check(ctx context.Context) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func TestManagerRunChecks(t *testing.T) {
	m := NewManager(nil)
	m.Register(&stubChecker{name: "good"})
	m.Register(&stubChecker{name: "bad", err: errors.New("backend unreachable")})

	results := m.RunChecks(context.Background())
	require.Len(t, results, 2)

	assert.Equal(t, StatusOK, results["good"].Status)
	assert.Equal(t, StatusDown, results["bad"].Status)
	assert.Equal(t, "backend unreachable", results["bad"].Message)
	assert.False(t, results["bad"].LastChecked.IsZero())
}

func TestManagerOverallStatus(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, StatusDown, m.OverallStatus(), "no results yet means not ready")

	m.Register(&stubChecker{name: "good"})
	m.RunChecks(context.Background())
	assert.Equal(t, StatusOK, m.OverallStatus())

	m.Register(&stubChecker{name: "bad", err: errors.New("boom")})
	m.RunChecks(context.Background())
	assert.Equal(t, StatusDown, m.OverallStatus())
}

func TestManagerResultsCopied(t *testing.T) {
	m := NewManager(nil)
	m.Register(&stubChecker{name: "good"})
	m.RunChecks(context.Background())

	results := m.Results()
	results["good"].Status = StatusDown

	assert.Equal(t, StatusOK, m.OverallStatus(), "mutating a copy must not affect cached results")
}
