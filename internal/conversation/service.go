package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"capsules/internal/errs"
	"capsules/internal/logger"
	"capsules/internal/storage"
)

// WriteStore is the slice of the repository the service mutates through.
type WriteStore interface {
	InsertMessage(ctx context.Context, m *Message) error
	InsertCapsule(ctx context.Context, c *Capsule) error
	InsertMoment(ctx context.Context, m *SharedMoment) error
	TouchCapsule(ctx context.Context, id string, at time.Time) error
	TouchThread(ctx context.Context, id string, at time.Time) error
	FindOrCreateThread(ctx context.Context, newID, starterID, friendshipID string) (*Thread, error)
	Starters(ctx context.Context, category string, limit int) ([]Starter, error)
	StarterByID(ctx context.Context, id string) (*Starter, error)
	FriendshipParticipants(ctx context.Context, friendshipID string) (userID, friendID string, err error)
}

// Publisher pushes committed rows onto the conversation's realtime channel.
type Publisher interface {
	Publish(ctx context.Context, friendshipID string, env Envelope) error
}

// Service executes user actions: each is a direct write followed by a
// publish. There is no optimistic echo; a sender sees their own message when
// it comes back over the channel like any other insert.
type Service struct {
	repo  WriteStore
	pub   Publisher
	store storage.ObjectStore
	log   *logger.Logger
	now   func() time.Time
}

func NewService(repo WriteStore, pub Publisher, store storage.ObjectStore, log *logger.Logger) *Service {
	return &Service{repo: repo, pub: pub, store: store, log: log, now: time.Now}
}

const starterSampleSize = 6

type SendMessageInput struct {
	SenderID     string  `json:"-"`
	FriendshipID string  `json:"-"`
	Content      string  `json:"content"`
	CapsuleID    *string `json:"capsule_id,omitempty"`
	ThreadID     *string `json:"thread_id,omitempty"`
}

func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, errs.InvalidArg("message content is empty")
	}

	recipient, err := s.recipientOf(ctx, in.FriendshipID, in.SenderID)
	if err != nil {
		return nil, err
	}

	m := &Message{
		ID:           uuid.NewString(),
		SenderID:     in.SenderID,
		RecipientID:  recipient,
		FriendshipID: in.FriendshipID,
		Content:      content,
		CapsuleID:    in.CapsuleID,
		ThreadID:     in.ThreadID,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "sending message failed", err)
	}

	// Activity bumps are separate round trips; a failure leaves the
	// timestamp stale, which callers tolerate.
	if m.CapsuleID != nil {
		if err := s.repo.TouchCapsule(ctx, *m.CapsuleID, m.CreatedAt); err != nil {
			s.log.Warn("capsule activity bump failed", "capsule_id", *m.CapsuleID, "err", err)
		}
	}
	if m.ThreadID != nil {
		if err := s.repo.TouchThread(ctx, *m.ThreadID, m.CreatedAt); err != nil {
			s.log.Warn("thread activity bump failed", "thread_id", *m.ThreadID, "err", err)
		}
	}

	s.publish(ctx, in.FriendshipID, Envelope{Kind: KindMessage, Message: m})
	return m, nil
}

type CreateCapsuleInput struct {
	CreatedBy    string  `json:"-"`
	FriendshipID string  `json:"-"`
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	CapsuleType  string  `json:"capsule_type"`
}

func (s *Service) CreateCapsule(ctx context.Context, in CreateCapsuleInput) (*Capsule, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errs.InvalidArg("capsule title is required")
	}
	if _, err := s.recipientOf(ctx, in.FriendshipID, in.CreatedBy); err != nil {
		return nil, err
	}

	capsuleType := in.CapsuleType
	if capsuleType == "" {
		capsuleType = "general"
	}

	c := &Capsule{
		ID:           uuid.NewString(),
		FriendshipID: in.FriendshipID,
		Title:        title,
		Description:  in.Description,
		CapsuleType:  capsuleType,
		CreatedBy:    in.CreatedBy,
	}
	if err := s.repo.InsertCapsule(ctx, c); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "creating capsule failed", err)
	}

	s.publish(ctx, in.FriendshipID, Envelope{Kind: KindCapsule, Capsule: c})
	return c, nil
}

func (s *Service) ListStarters(ctx context.Context, category string) ([]Starter, error) {
	starters, err := s.repo.Starters(ctx, category, starterSampleSize)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "loading starters failed", err)
	}
	return starters, nil
}

type SelectStarterInput struct {
	UserID       string
	FriendshipID string
	StarterID    string
}

// SelectStarter finds or creates the thread for a (starter, friendship)
// pair and posts the starter text into it. Selecting the same starter again
// reuses the existing thread.
func (s *Service) SelectStarter(ctx context.Context, in SelectStarterInput) (*Thread, *Message, error) {
	starter, err := s.repo.StarterByID(ctx, in.StarterID)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil, errs.NotFound("starter not found")
		}
		return nil, nil, errs.Wrap(errs.CodeInternal, "loading starter failed", err)
	}

	recipient, err := s.recipientOf(ctx, in.FriendshipID, in.UserID)
	if err != nil {
		return nil, nil, err
	}

	thread, err := s.repo.FindOrCreateThread(ctx, uuid.NewString(), in.StarterID, in.FriendshipID)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CodeInternal, "creating thread failed", err)
	}

	m := &Message{
		ID:           uuid.NewString(),
		SenderID:     in.UserID,
		RecipientID:  recipient,
		FriendshipID: in.FriendshipID,
		Content:      starter.Text,
		StarterID:    &starter.ID,
		ThreadID:     &thread.ID,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, nil, errs.Wrap(errs.CodeInternal, "sending starter message failed", err)
	}

	s.publish(ctx, in.FriendshipID, Envelope{Kind: KindMessage, Message: m})
	return thread, m, nil
}

// ImageUpload is one picked image ready for storage.
type ImageUpload struct {
	Data        []byte
	ContentType string
}

type ShareMomentInput struct {
	UploaderID   string
	FriendshipID string
	Title        string
	Reflection   string
	Images       []ImageUpload
}

const maxMomentImages = 5

// ShareMoment uploads each image under the pair's storage prefix, persists
// one moment row with the comma-joined paths, and posts the message that
// carries it. An upload failure aborts the whole action.
func (s *Service) ShareMoment(ctx context.Context, in ShareMomentInput) (*SharedMoment, *Message, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Reflection) == "" || len(in.Images) == 0 {
		return nil, nil, errs.InvalidArg("a moment needs images, a title, and a reflection")
	}
	if len(in.Images) > maxMomentImages {
		return nil, nil, errs.InvalidArg("a moment carries at most 5 images")
	}

	recipient, err := s.recipientOf(ctx, in.FriendshipID, in.UploaderID)
	if err != nil {
		return nil, nil, err
	}

	prefix := storage.PairPrefix(in.UploaderID, recipient)
	paths := make([]string, 0, len(in.Images))
	for _, img := range in.Images {
		path := prefix + "/" + uuid.NewString() + "." + extForContentType(img.ContentType)
		if err := s.store.Upload(ctx, path, img.Data, img.ContentType); err != nil {
			return nil, nil, errs.Wrap(errs.CodeUnavailable, "image upload failed", err)
		}
		paths = append(paths, path)
	}

	moment := &SharedMoment{
		ID:           uuid.NewString(),
		Title:        in.Title,
		Reflection:   in.Reflection,
		StoragePath:  JoinPaths(paths),
		UploaderID:   in.UploaderID,
		SharedWithID: recipient,
	}
	if err := s.repo.InsertMoment(ctx, moment); err != nil {
		return nil, nil, errs.Wrap(errs.CodeInternal, "saving moment failed", err)
	}
	s.publish(ctx, in.FriendshipID, Envelope{Kind: KindMoment, Moment: moment})

	m := &Message{
		ID:           uuid.NewString(),
		SenderID:     in.UploaderID,
		RecipientID:  recipient,
		FriendshipID: in.FriendshipID,
		Content:      "Shared a moment",
		MomentID:     &moment.ID,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, nil, errs.Wrap(errs.CodeInternal, "sending moment message failed", err)
	}
	s.publish(ctx, in.FriendshipID, Envelope{Kind: KindMessage, Message: m})

	return moment, m, nil
}

// recipientOf resolves the other participant of a friendship and verifies
// the caller belongs to it.
func (s *Service) recipientOf(ctx context.Context, friendshipID, callerID string) (string, error) {
	userID, friendID, err := s.repo.FriendshipParticipants(ctx, friendshipID)
	if err != nil {
		if err == ErrNotFound {
			return "", errs.NotFound("conversation not found")
		}
		return "", errs.Wrap(errs.CodeInternal, "resolving conversation failed", err)
	}
	switch callerID {
	case userID:
		return friendID, nil
	case friendID:
		return userID, nil
	default:
		return "", errs.Forbidden("not a participant of this conversation")
	}
}

// publish relays a committed row to live sessions. The row is already
// durable; a relay failure is logged, viewers catch up on next bootstrap.
func (s *Service) publish(ctx context.Context, friendshipID string, env Envelope) {
	if err := s.pub.Publish(ctx, friendshipID, env); err != nil {
		s.log.Error("publishing event failed", "friendship_id", friendshipID, "kind", env.Kind, "err", err)
	}
}

func extForContentType(ct string) string {
	switch ct {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}
