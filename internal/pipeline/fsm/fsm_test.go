// SPDX-License-Identifier: MIT

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState string
type testEvent string

const (
	stIdle    testState = "IDLE"
	stRunning testState = "RUNNING"
	stDone    testState = "DONE"

	evStart  testEvent = "START"
	evFinish testEvent = "FINISH"
)

func newTestMachine(t *testing.T, action func(ctx context.Context, from, to testState, ev testEvent) error) *Machine[testState, testEvent] {
	t.Helper()
	m, err := New(stIdle, []Transition[testState, testEvent]{
		{From: stIdle, Event: evStart, To: stRunning, Action: action},
		{From: stRunning, Event: evFinish, To: stDone},
	})
	require.NoError(t, err)
	return m
}

func TestMachine_HappyPath(t *testing.T) {
	m := newTestMachine(t, nil)
	assert.Equal(t, stIdle, m.State())

	st, err := m.Fire(context.Background(), evStart)
	require.NoError(t, err)
	assert.Equal(t, stRunning, st)

	st, err = m.Fire(context.Background(), evFinish)
	require.NoError(t, err)
	assert.Equal(t, stDone, st)
}

func TestMachine_InvalidTransition(t *testing.T) {
	m := newTestMachine(t, nil)

	// FINISH is not a valid edge out of IDLE.
	st, err := m.Fire(context.Background(), evFinish)
	assert.Error(t, err)
	assert.Equal(t, stIdle, st)
	assert.Equal(t, stIdle, m.State())
}

func TestMachine_ActionVeto(t *testing.T) {
	vetoErr := errors.New("not ready")
	m := newTestMachine(t, func(ctx context.Context, from, to testState, ev testEvent) error {
		return vetoErr
	})

	st, err := m.Fire(context.Background(), evStart)
	assert.ErrorIs(t, err, vetoErr)
	assert.Equal(t, stIdle, st)
	assert.Equal(t, stIdle, m.State())
}

func TestNew_DuplicateTransition(t *testing.T) {
	_, err := New(stIdle, []Transition[testState, testEvent]{
		{From: stIdle, Event: evStart, To: stRunning},
		{From: stIdle, Event: evStart, To: stDone},
	})
	assert.Error(t, err)
}
