package natsbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/crazyremix/remix-server/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSubjects(t *testing.T) {
	tr := &Transport{cfg: Config{Prefix: "remix", Room: "ABC234", PeerID: "p1"}}
	assert.Equal(t, "remix.ABC234", tr.roomSubject())
	assert.Equal(t, "remix.ABC234.peer.p2", tr.peerSubject("p2"))
	assert.Equal(t, "remix.ABC234.presence", tr.presenceSubject())
}

func TestValidateToken(t *testing.T) {
	assert.NoError(t, validateToken("ABC234"))
	assert.NoError(t, validateToken("6f1c-uuid"))
	for _, bad := range []string{"", "a.b", "*", "a>", "has space"} {
		assert.Error(t, validateToken(bad), bad)
	}
}

// TestRoundTrip needs a running server, e.g. REMIX_TEST_NATS_URL=nats://localhost:4222.
func TestRoundTrip(t *testing.T) {
	url := os.Getenv("REMIX_TEST_NATS_URL")
	if url == "" {
		t.Skip("REMIX_TEST_NATS_URL not set")
	}
	logger := zaptest.NewLogger(t)
	room := "T" + time.Now().Format("150405")

	host, err := Dial(url, Config{Prefix: "remixtest", Room: room, PeerID: "host"}, logger)
	require.NoError(t, err)
	defer host.Close()

	joined := make(chan string, 1)
	host.OnPeerJoin(func(id string) { joined <- id })
	inHost := make(chan transport.Envelope, 4)
	host.Subscribe(func(env transport.Envelope) { inHost <- env })

	guest, err := Dial(url, Config{Prefix: "remixtest", Room: room, PeerID: "guest"}, logger)
	require.NoError(t, err)
	defer guest.Close()
	inGuest := make(chan transport.Envelope, 4)
	guest.Subscribe(func(env transport.Envelope) { inGuest <- env })

	select {
	case id := <-joined:
		assert.Equal(t, "guest", id)
	case <-time.After(2 * time.Second):
		t.Fatal("no presence event")
	}

	require.NoError(t, guest.Send(context.Background(), transport.Broadcast, []byte(`{"kind":"JOIN_REQUEST"}`)))
	select {
	case env := <-inHost:
		assert.Equal(t, "guest", env.From)
		assert.JSONEq(t, `{"kind":"JOIN_REQUEST"}`, string(env.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("host got nothing")
	}

	require.NoError(t, host.Send(context.Background(), "guest", []byte(`{}`)))
	select {
	case env := <-inGuest:
		assert.Equal(t, "host", env.From)
		assert.Equal(t, "guest", env.To)
	case <-time.After(2 * time.Second):
		t.Fatal("guest got nothing")
	}
}
