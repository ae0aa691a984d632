package friendship

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"capsules/internal/errs"
	"capsules/internal/logger"
)

type Service struct {
	repo *Repository
	log  *logger.Logger
}

func NewService(repo *Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

func (s *Service) Friends(ctx context.Context, userID string) ([]FriendSummary, error) {
	friends, err := s.repo.ListAccepted(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "could not load friends", err)
	}
	return friends, nil
}

func (s *Service) PendingRequests(ctx context.Context, userID string) ([]Request, error) {
	requests, err := s.repo.PendingFor(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "could not load friend requests", err)
	}
	return requests, nil
}

// SendRequest creates a pending friendship from userID to friendID.
func (s *Service) SendRequest(ctx context.Context, userID, friendID string) (*Friendship, error) {
	if friendID == "" {
		return nil, errs.InvalidArg("friend id is required")
	}
	if friendID == userID {
		return nil, errs.InvalidArg("cannot befriend yourself")
	}
	f := &Friendship{
		ID:       uuid.NewString(),
		UserID:   userID,
		FriendID: friendID,
		Status:   StatusPending,
	}
	err := s.repo.Create(ctx, f)
	if errors.Is(err, ErrAlreadyExists) {
		return nil, errs.AlreadyExists("friend request already sent")
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "could not create friend request", err)
	}
	s.log.Info("friend request sent", "from", userID, "to", friendID)
	return f, nil
}

// Respond accepts or blocks a pending request addressed to userID.
func (s *Service) Respond(ctx context.Context, userID, requestID, status string) error {
	if status != StatusAccepted && status != StatusBlocked {
		return errs.InvalidArg("status must be accepted or blocked")
	}
	err := s.repo.UpdateStatus(ctx, requestID, userID, status)
	if errors.Is(err, ErrNotFound) {
		return errs.NotFound("friend request not found")
	}
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "could not update friend request", err)
	}
	s.log.Info("friend request resolved", "request", requestID, "status", status)
	return nil
}
