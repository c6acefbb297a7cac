package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppp-gateway/internal/supervisor"
)

func TestBusFiltersByType(t *testing.T) {
	bus := NewBus(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	all, cancelAll := bus.Subscribe()
	defer cancelAll()
	links, cancelLinks := bus.Subscribe(supervisor.EventLinkError)
	defer cancelLinks()

	bus.Publish(supervisor.Event{Type: supervisor.EventConnected, SessionID: "s1"})
	bus.Publish(supervisor.Event{Type: supervisor.EventLinkError, ErrorClass: "link_timeout"})

	for _, want := range []supervisor.EventType{supervisor.EventConnected, supervisor.EventLinkError} {
		select {
		case ev := <-all:
			assert.Equal(t, want, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing %s event", want)
		}
	}

	select {
	case ev := <-links:
		assert.Equal(t, "link_timeout", ev.ErrorClass)
	case <-time.After(time.Second):
		t.Fatal("missing link error event")
	}
	assert.Empty(t, links)
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Distributing after cancel must not panic.
	require.NotPanics(t, func() {
		bus.distribute(supervisor.Event{Type: supervisor.EventConnected})
	})
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < busBufferSize+10; i++ {
			bus.Publish(supervisor.Event{Type: supervisor.EventStateChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked")
	}
}

func TestBusCloseDeliversQueuedEvents(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(supervisor.Event{Type: supervisor.EventConnected})
	bus.Publish(supervisor.Event{Type: supervisor.EventDisconnected})
	bus.Close()

	done := make(chan struct{})
	go func() {
		bus.Run(context.Background())
		close(done)
	}()

	var got []supervisor.EventType
	for ev := range ch {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []supervisor.EventType{supervisor.EventConnected, supervisor.EventDisconnected}, got)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
