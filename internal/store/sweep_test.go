package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingSweeper struct{ calls int }

func (f *failingSweeper) SweepSessions(context.Context) ([]string, error) {
	f.calls++
	return []string{"ignored"}, errors.New("database is locked")
}

func TestSweepOnceSkipsCallbackOnError(t *testing.T) {
	t.Parallel()

	sw := &failingSweeper{}
	called := false
	sweepOnce(context.Background(), sw, func(string) { called = true })

	assert.Equal(t, 1, sw.calls)
	assert.False(t, called)
}
