package conversation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capsules/internal/logger"
)

// newSocketClient wires a client to a live session the way ServeWs does,
// minus the network: frames land in the client's send queue.
func newSocketClient(t *testing.T, store *memStore, caps Capabilities) (*Client, *chanSub) {
	t.Helper()
	svc, _, _, _ := newTestService()
	client := NewClient(nil, nil, nil, svc, logger.NewNop(), "viewer", "f1")

	sub := newChanSub()
	session := NewSession(SessionConfig{
		Log:          logger.NewNop(),
		Store:        store,
		Resolver:     pathResolver{},
		Sub:          sub,
		ViewerID:     "viewer",
		FriendID:     "friend",
		FriendshipID: "f1",
		Caps:         caps,
		Notify: func(ev Event) {
			client.Push(FrameFor(ev))
		},
	})
	client.session = session

	_, err := session.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return client, sub
}

func readFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case payload := <-c.send:
		var fr Frame
		require.NoError(t, json.Unmarshal(payload, &fr))
		return fr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return Frame{}
	}
}

func TestDispatchOpenCapsule(t *testing.T) {
	store := newMemStore()
	store.capsules = []Capsule{{ID: "c1", Title: "Trips"}}
	store.counts["c1"] = [2]int{1, 1}
	store.capsuleMsgs["c1"] = []Message{fromFriend("m0", "earlier")}

	client, sub := newSocketClient(t, store, AllCapabilities())

	client.dispatch(command{Type: "open_capsule", CapsuleID: strptr("c1")})

	fr := readFrame(t, client)
	assert.Equal(t, FrameCapsuleMessages, fr.Type)
	assert.Equal(t, "c1", fr.CapsuleID)
	require.Len(t, fr.Messages, 1)
	assert.True(t, fr.Messages[0].IsRead)

	// The session is now routing live capsule traffic into the open list.
	live := fromFriend("m1", "live one")
	live.CapsuleID = strptr("c1")
	sub.ch <- Envelope{Kind: KindMessage, Message: &live}

	fr = readFrame(t, client)
	assert.Equal(t, FrameMessage, fr.Type)
	require.Len(t, client.session.CapsuleMessagesOpen(), 2)
}

func TestDispatchCloseCapsule(t *testing.T) {
	store := newMemStore()
	store.capsules = []Capsule{{ID: "c1", Title: "Trips"}}
	store.counts["c1"] = [2]int{0, 0}

	client, _ := newSocketClient(t, store, AllCapabilities())

	client.dispatch(command{Type: "open_capsule", CapsuleID: strptr("c1")})
	readFrame(t, client)

	client.dispatch(command{Type: "close_capsule"})
	assert.Empty(t, client.session.CapsuleMessagesOpen())
}

func TestDispatchOpenThread(t *testing.T) {
	store := newMemStore()
	reply := fromFriend("m0", "thread reply")
	reply.ThreadID = strptr("t1")
	store.threadMsgs["t1"] = []Message{reply}

	client, _ := newSocketClient(t, store, AllCapabilities())

	client.dispatch(command{Type: "open_thread", ThreadID: strptr("t1")})

	fr := readFrame(t, client)
	assert.Equal(t, FrameThreadMessages, fr.Type)
	assert.Equal(t, "t1", fr.ThreadID)
	require.Len(t, fr.Messages, 1)
}

func TestDispatchOpenWithoutID(t *testing.T) {
	client, _ := newSocketClient(t, newMemStore(), AllCapabilities())

	client.dispatch(command{Type: "open_capsule"})
	fr := readFrame(t, client)
	assert.Equal(t, FrameError, fr.Type)
	assert.NotEmpty(t, fr.Error)

	client.dispatch(command{Type: "open_thread"})
	fr = readFrame(t, client)
	assert.Equal(t, FrameError, fr.Type)
}

func TestDispatchOpenCapsuleWithoutCapability(t *testing.T) {
	client, _ := newSocketClient(t, newMemStore(), Capabilities{Moments: true})

	client.dispatch(command{Type: "open_capsule", CapsuleID: strptr("c1")})
	fr := readFrame(t, client)
	assert.Equal(t, FrameError, fr.Type)
	assert.NotEmpty(t, fr.Error)
}

func TestDispatchRejectedSendPushesErrorDetail(t *testing.T) {
	client, _ := newSocketClient(t, newMemStore(), AllCapabilities())

	client.dispatch(command{Type: "send", Content: "   "})
	fr := readFrame(t, client)
	assert.Equal(t, FrameError, fr.Type)
	assert.NotEmpty(t, fr.Error)
}
