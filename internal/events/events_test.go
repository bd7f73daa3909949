// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DispatchOrdersByRegistration(t *testing.T) {
	b := NewBus()
	var order []string
	var mu sync.Mutex

	for _, name := range []string{"a", "b", "c"} {
		name := name
		b.Subscribe(BeforeRequest, name, func(ctx context.Context, args any) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	b.Dispatch(context.Background(), BeforeRequest, nil)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestBus_HandlerErrorDoesNotAbortLaterHandlers(t *testing.T) {
	b := NewBus()
	var errs []error
	b.WithSink(func(err error) { errs = append(errs, err) })

	var secondRan bool
	b.Subscribe(BeforeRequest, "failing", func(ctx context.Context, args any) error {
		return errors.New("boom")
	})
	b.Subscribe(BeforeRequest, "ok", func(ctx context.Context, args any) error {
		secondRan = true
		return nil
	})

	b.Dispatch(context.Background(), BeforeRequest, nil)
	assert.True(t, secondRan, "later handler must still run after an earlier failure")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "failing")
}

func TestBus_HandlerPanicIsRecovered(t *testing.T) {
	b := NewBus()
	var errs []error
	b.WithSink(func(err error) { errs = append(errs, err) })

	var secondRan bool
	b.Subscribe(BeforeRequest, "panics", func(ctx context.Context, args any) error {
		panic("kaboom")
	})
	b.Subscribe(BeforeRequest, "ok", func(ctx context.Context, args any) error {
		secondRan = true
		return nil
	})

	assert.NotPanics(t, func() {
		b.Dispatch(context.Background(), BeforeRequest, nil)
	})
	assert.True(t, secondRan)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "panics")
}

func TestBus_SinkReceivesStructuredHandlerError(t *testing.T) {
	b := NewBus()
	var errs []error
	b.WithSink(func(err error) { errs = append(errs, err) })

	b.Subscribe(BeforeRequest, "failing", func(ctx context.Context, args any) error {
		return errors.New("boom")
	})
	b.Dispatch(context.Background(), BeforeRequest, nil)

	require.Len(t, errs, 1)
	var handlerErr *HandlerError
	require.True(t, errors.As(errs[0], &handlerErr))
	assert.Equal(t, "failing", handlerErr.Plugin)
	assert.Equal(t, BeforeRequest, handlerErr.Event)
	assert.False(t, handlerErr.Panicked)

	errs = nil
	b.Subscribe(BeforeResponse, "panics", func(ctx context.Context, args any) error {
		panic("kaboom")
	})
	b.Dispatch(context.Background(), BeforeResponse, nil)
	require.Len(t, errs, 1)
	require.True(t, errors.As(errs[0], &handlerErr))
	assert.True(t, handlerErr.Panicked)
}

func TestBus_Count(t *testing.T) {
	b := NewBus()
	assert.Equal(t, 0, b.Count(Init))
	b.Subscribe(Init, "p1", func(ctx context.Context, args any) error { return nil })
	assert.Equal(t, 1, b.Count(Init))
}

func TestBus_EventsAreIsolated(t *testing.T) {
	b := NewBus()
	var beforeRequestRan, beforeResponseRan bool
	b.Subscribe(BeforeRequest, "p", func(ctx context.Context, args any) error {
		beforeRequestRan = true
		return nil
	})
	b.Subscribe(BeforeResponse, "p", func(ctx context.Context, args any) error {
		beforeResponseRan = true
		return nil
	})

	b.Dispatch(context.Background(), BeforeRequest, nil)
	assert.True(t, beforeRequestRan)
	assert.False(t, beforeResponseRan, "dispatching one event must not fire handlers for another")
}
