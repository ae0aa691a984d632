package profile

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"capsules/internal/errs"
)

// Service answers "who is calling" for the rest of the application. Token
// issuance lives with the identity provider; we only validate.
type Service struct {
	repo      *Repository
	jwtSecret string
}

type Claims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, secret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
	}
}

func (s *Service) ValidateToken(tokenString string) (string, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.Unauthorized("unexpected signing method")
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil || !token.Valid {
		return "", "", errs.Unauthorized("invalid token")
	}

	return claims.ID, claims.Username, nil
}

func (s *Service) GetProfile(ctx context.Context, id string) (*Profile, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if err == ErrNotFound {
			return nil, errs.NotFound("profile not found")
		}
		return nil, errs.Wrap(errs.CodeInternal, "loading profile failed", err)
	}
	return p, nil
}

func (s *Service) Search(ctx context.Context, query, callerID string) ([]Profile, error) {
	profiles, err := s.repo.Search(ctx, query, callerID)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "profile search failed", err)
	}
	return profiles, nil
}
