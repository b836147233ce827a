package websocket

import (
	"context"
	"net"
	"testing"
	"time"
)

// newHubClient wires a server-mode Connection into hub via Admit and
// returns the peer-side net.Conn for driving it as a test harness.
func newHubClient(t *testing.T, ctx context.Context, hub *Hub) (*Client, net.Conn) {
	t.Helper()
	server, peer := net.Pipe()
	conn := NewConnection(server, ModeServer, nil)
	c, err := hub.Admit(ctx, conn)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	t.Cleanup(func() { _ = peer.Close() })
	return c, peer
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go hub.Run(ctx)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() = %d, want 0", got)
	}

	client, peer := newHubClient(t, ctx, hub)
	defer peer.Close()

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() after Admit = %d, want 1", got)
	}

	hub.Unregister(client)
	// Unregister is a blocking channel send served by the same
	// goroutine that applies the map mutation, so ClientCount is
	// already consistent once the send returns... except the mutation
	// happens after the receive, inside the same select case, so poll
	// briefly to avoid a race with the goroutine scheduler.
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() after Unregister = %d, want 0", got)
	}
}

func TestHubBroadcastDeliversToAllClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go hub.Run(ctx)

	const n = 3
	peers := make([]net.Conn, n)
	for i := 0; i < n; i++ {
		_, peer := newHubClient(t, ctx, hub)
		peers[i] = peer
	}

	hub.Broadcast(OpText, []byte("hello everyone"))

	for i, peer := range peers {
		frame := readFrameFrom(t, peer, false)
		if frame.OpCode != OpText || string(frame.Payload) != "hello everyone" {
			t.Errorf("client %d got %+v, want text \"hello everyone\"", i, frame)
		}
	}
}

func TestHubUnregisterOnBroadcastFailure(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go hub.Run(ctx)

	client, peer := newHubClient(t, ctx, hub)
	_ = peer.Close() // break the transport before broadcasting

	hub.Broadcast(OpText, []byte("x"))

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() after failed broadcast = %d, want 0 (client %s should auto-unregister)", got, client.ID)
	}
}

func TestHubRunDrainsClientsOnCancel(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(t.Context())

	runErr := make(chan error, 1)
	go func() { runErr <- hub.Run(ctx) }()

	_, peer := newHubClient(t, ctx, hub)
	defer peer.Close()

	cancel()
	if err := <-runErr; err == nil {
		t.Error("Run() returned nil error after cancellation, want context.Canceled")
	}
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("ClientCount() after shutdown = %d, want 0", got)
	}
}

func TestHubAdmitGeneratesUniqueIDs(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go hub.Run(ctx)

	a, peerA := newHubClient(t, ctx, hub)
	b, peerB := newHubClient(t, ctx, hub)
	defer peerA.Close()
	defer peerB.Close()

	if a.ID == "" || b.ID == "" {
		t.Fatal("Admit() produced an empty client ID")
	}
	if a.ID == b.ID {
		t.Errorf("two Admit() calls produced the same ID %q", a.ID)
	}
}
