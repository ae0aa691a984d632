package conversation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capsules/internal/errs"
	"capsules/internal/logger"
)

type fakeWriteStore struct {
	messages []Message
	capsules []Capsule
	moments  []SharedMoment

	touchedCapsules []string
	touchedThreads  []string

	threads  map[string]*Thread
	starters map[string]Starter
}

func newFakeWriteStore() *fakeWriteStore {
	return &fakeWriteStore{
		threads:  make(map[string]*Thread),
		starters: make(map[string]Starter),
	}
}

func (s *fakeWriteStore) InsertMessage(_ context.Context, m *Message) error {
	m.CreatedAt = time.Now()
	s.messages = append(s.messages, *m)
	return nil
}

func (s *fakeWriteStore) InsertCapsule(_ context.Context, c *Capsule) error {
	c.CreatedAt = time.Now()
	c.LastActivityAt = c.CreatedAt
	s.capsules = append(s.capsules, *c)
	return nil
}

func (s *fakeWriteStore) InsertMoment(_ context.Context, m *SharedMoment) error {
	m.CreatedAt = time.Now()
	s.moments = append(s.moments, *m)
	return nil
}

func (s *fakeWriteStore) TouchCapsule(_ context.Context, id string, _ time.Time) error {
	s.touchedCapsules = append(s.touchedCapsules, id)
	return nil
}

func (s *fakeWriteStore) TouchThread(_ context.Context, id string, _ time.Time) error {
	s.touchedThreads = append(s.touchedThreads, id)
	return nil
}

func (s *fakeWriteStore) FindOrCreateThread(_ context.Context, newID, starterID, friendshipID string) (*Thread, error) {
	key := starterID + "/" + friendshipID
	if t, ok := s.threads[key]; ok {
		return t, nil
	}
	t := &Thread{ID: newID, StarterID: starterID, FriendshipID: friendshipID, CreatedAt: time.Now()}
	s.threads[key] = t
	return t, nil
}

func (s *fakeWriteStore) Starters(_ context.Context, category string, limit int) ([]Starter, error) {
	var out []Starter
	for _, st := range s.starters {
		if category == "" || st.Category == category {
			out = append(out, st)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeWriteStore) StarterByID(_ context.Context, id string) (*Starter, error) {
	st, ok := s.starters[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (s *fakeWriteStore) FriendshipParticipants(_ context.Context, friendshipID string) (string, string, error) {
	if friendshipID != "f1" {
		return "", "", ErrNotFound
	}
	return "alice", "bob", nil
}

type fakePublisher struct {
	published []Envelope
	fail      bool
}

func (p *fakePublisher) Publish(_ context.Context, _ string, env Envelope) error {
	if p.fail {
		return errors.New("redis down")
	}
	p.published = append(p.published, env)
	return nil
}

type fakeObjects struct {
	uploads []string
	fail    bool
}

func (o *fakeObjects) Upload(_ context.Context, path string, _ []byte, _ string) error {
	if o.fail {
		return errors.New("storage down")
	}
	o.uploads = append(o.uploads, path)
	return nil
}

func (o *fakeObjects) SignedURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return "signed://" + path, nil
}

func newTestService() (*Service, *fakeWriteStore, *fakePublisher, *fakeObjects) {
	store := newFakeWriteStore()
	pub := &fakePublisher{}
	objects := &fakeObjects{}
	return NewService(store, pub, objects, logger.NewNop()), store, pub, objects
}

func appCode(t *testing.T, err error) errs.Code {
	t.Helper()
	var ae *errs.AppError
	require.ErrorAs(t, err, &ae)
	return ae.Code
}

func TestSendMessage(t *testing.T) {
	t.Run("persists and publishes", func(t *testing.T) {
		svc, store, pub, _ := newTestService()

		m, err := svc.SendMessage(context.Background(), SendMessageInput{
			SenderID: "alice", FriendshipID: "f1", Content: "  hello  ",
		})
		require.NoError(t, err)
		assert.Equal(t, "hello", m.Content)
		assert.Equal(t, "bob", m.RecipientID)
		require.Len(t, store.messages, 1)
		require.Len(t, pub.published, 1)
		assert.Equal(t, KindMessage, pub.published[0].Kind)
		assert.Equal(t, m.ID, pub.published[0].Message.ID)
	})

	t.Run("empty content rejected", func(t *testing.T) {
		svc, store, _, _ := newTestService()

		_, err := svc.SendMessage(context.Background(), SendMessageInput{
			SenderID: "alice", FriendshipID: "f1", Content: "   ",
		})
		assert.Equal(t, errs.CodeInvalidArgument, appCode(t, err))
		assert.Empty(t, store.messages)
	})

	t.Run("non-participant rejected", func(t *testing.T) {
		svc, _, _, _ := newTestService()

		_, err := svc.SendMessage(context.Background(), SendMessageInput{
			SenderID: "mallory", FriendshipID: "f1", Content: "hi",
		})
		assert.Equal(t, errs.CodePermissionDenied, appCode(t, err))
	})

	t.Run("unknown conversation rejected", func(t *testing.T) {
		svc, _, _, _ := newTestService()

		_, err := svc.SendMessage(context.Background(), SendMessageInput{
			SenderID: "alice", FriendshipID: "ghost", Content: "hi",
		})
		assert.Equal(t, errs.CodeNotFound, appCode(t, err))
	})

	t.Run("capsule message bumps capsule activity", func(t *testing.T) {
		svc, store, _, _ := newTestService()

		capsuleID := "c1"
		_, err := svc.SendMessage(context.Background(), SendMessageInput{
			SenderID: "alice", FriendshipID: "f1", Content: "hi", CapsuleID: &capsuleID,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"c1"}, store.touchedCapsules)
	})

	t.Run("publish failure does not lose the write", func(t *testing.T) {
		svc, store, pub, _ := newTestService()
		pub.fail = true

		m, err := svc.SendMessage(context.Background(), SendMessageInput{
			SenderID: "bob", FriendshipID: "f1", Content: "hi",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", m.RecipientID)
		assert.Len(t, store.messages, 1)
	})
}

func TestCreateCapsule(t *testing.T) {
	t.Run("defaults type and publishes", func(t *testing.T) {
		svc, store, pub, _ := newTestService()

		c, err := svc.CreateCapsule(context.Background(), CreateCapsuleInput{
			CreatedBy: "alice", FriendshipID: "f1", Title: "Inside jokes",
		})
		require.NoError(t, err)
		assert.Equal(t, "general", c.CapsuleType)
		require.Len(t, store.capsules, 1)
		require.Len(t, pub.published, 1)
		assert.Equal(t, KindCapsule, pub.published[0].Kind)
	})

	t.Run("blank title rejected", func(t *testing.T) {
		svc, _, _, _ := newTestService()

		_, err := svc.CreateCapsule(context.Background(), CreateCapsuleInput{
			CreatedBy: "alice", FriendshipID: "f1", Title: " ",
		})
		assert.Equal(t, errs.CodeInvalidArgument, appCode(t, err))
	})
}

func TestSelectStarter(t *testing.T) {
	t.Run("creates a thread and posts the starter text", func(t *testing.T) {
		svc, store, pub, _ := newTestService()
		store.starters["s1"] = Starter{ID: "s1", Text: "What made you laugh today?"}

		thread, msg, err := svc.SelectStarter(context.Background(), SelectStarterInput{
			UserID: "alice", FriendshipID: "f1", StarterID: "s1",
		})
		require.NoError(t, err)
		assert.Equal(t, "What made you laugh today?", msg.Content)
		require.NotNil(t, msg.StarterID)
		assert.Equal(t, "s1", *msg.StarterID)
		require.NotNil(t, msg.ThreadID)
		assert.Equal(t, thread.ID, *msg.ThreadID)
		require.Len(t, pub.published, 1)
	})

	t.Run("selecting the same starter reuses the thread", func(t *testing.T) {
		svc, store, _, _ := newTestService()
		store.starters["s1"] = Starter{ID: "s1", Text: "prompt"}

		first, _, err := svc.SelectStarter(context.Background(), SelectStarterInput{
			UserID: "alice", FriendshipID: "f1", StarterID: "s1",
		})
		require.NoError(t, err)
		second, _, err := svc.SelectStarter(context.Background(), SelectStarterInput{
			UserID: "bob", FriendshipID: "f1", StarterID: "s1",
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("unknown starter", func(t *testing.T) {
		svc, _, _, _ := newTestService()

		_, _, err := svc.SelectStarter(context.Background(), SelectStarterInput{
			UserID: "alice", FriendshipID: "f1", StarterID: "ghost",
		})
		assert.Equal(t, errs.CodeNotFound, appCode(t, err))
	})
}

func TestShareMoment(t *testing.T) {
	validInput := func() ShareMomentInput {
		return ShareMomentInput{
			UploaderID:   "bob",
			FriendshipID: "f1",
			Title:        "Beach day",
			Reflection:   "That sunset though",
			Images: []ImageUpload{
				{Data: []byte("img1"), ContentType: "image/jpeg"},
				{Data: []byte("img2"), ContentType: "image/png"},
			},
		}
	}

	t.Run("uploads under the pair prefix and joins paths", func(t *testing.T) {
		svc, store, pub, objects := newTestService()

		moment, msg, err := svc.ShareMoment(context.Background(), validInput())
		require.NoError(t, err)

		require.Len(t, objects.uploads, 2)
		for _, p := range objects.uploads {
			assert.True(t, strings.HasPrefix(p, "alice_bob/"), p)
		}
		assert.Equal(t, JoinPaths(objects.uploads), moment.StoragePath)
		assert.Equal(t, "alice", moment.SharedWithID)

		require.NotNil(t, msg.MomentID)
		assert.Equal(t, moment.ID, *msg.MomentID)
		assert.Equal(t, "Shared a moment", msg.Content)

		// Moment row first, then the message that references it.
		require.Len(t, pub.published, 2)
		assert.Equal(t, KindMoment, pub.published[0].Kind)
		assert.Equal(t, KindMessage, pub.published[1].Kind)
		require.Len(t, store.moments, 1)
		require.Len(t, store.messages, 1)
	})

	t.Run("requires images, title, and reflection", func(t *testing.T) {
		svc, _, _, _ := newTestService()

		for name, mutate := range map[string]func(*ShareMomentInput){
			"no images":     func(in *ShareMomentInput) { in.Images = nil },
			"no title":      func(in *ShareMomentInput) { in.Title = "  " },
			"no reflection": func(in *ShareMomentInput) { in.Reflection = "" },
		} {
			in := validInput()
			mutate(&in)
			_, _, err := svc.ShareMoment(context.Background(), in)
			assert.Equal(t, errs.CodeInvalidArgument, appCode(t, err), name)
		}
	})

	t.Run("caps the image count", func(t *testing.T) {
		svc, _, _, _ := newTestService()

		in := validInput()
		for i := 0; i < 5; i++ {
			in.Images = append(in.Images, ImageUpload{Data: []byte("x"), ContentType: "image/jpeg"})
		}
		_, _, err := svc.ShareMoment(context.Background(), in)
		assert.Equal(t, errs.CodeInvalidArgument, appCode(t, err))
	})

	t.Run("upload failure aborts the whole share", func(t *testing.T) {
		svc, store, pub, objects := newTestService()
		objects.fail = true

		_, _, err := svc.ShareMoment(context.Background(), validInput())
		assert.Equal(t, errs.CodeUnavailable, appCode(t, err))
		assert.Empty(t, store.moments)
		assert.Empty(t, store.messages)
		assert.Empty(t, pub.published)
	})
}
