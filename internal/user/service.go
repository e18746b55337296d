package user

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email is already taken")
)

// Repository is the credential store the service needs.
type Repository interface {
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id string) (*entity.User, error)
	Update(ctx context.Context, id string, p entity.Patch) (*entity.User, error)
}

// UserService handles profile reads and updates.
type UserService struct {
	repo   Repository
	hasher PasswordHasher
	logger *zap.SugaredLogger
}

func NewUserService(r Repository, hasher PasswordHasher, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{repo: r, hasher: hasher, logger: logger}
}

// UpdateInput carries optional profile changes.
type UpdateInput struct {
	Email    *string
	Name     *string
	Password *string
}

// Profile returns the user by id.
func (s *UserService) Profile(ctx context.Context, id string) (*entity.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// UpdateProfile applies in to the user. An email owned by another account is
// rejected up front; the unique index still decides races.
func (s *UserService) UpdateProfile(ctx context.Context, id string, in UpdateInput) (*entity.User, error) {
	var p entity.Patch
	if in.Email != nil {
		existing, err := s.repo.GetByEmail(ctx, *in.Email)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != id {
			return nil, ErrEmailTaken
		}
		p.Email = in.Email
	}
	p.Name = in.Name
	if in.Password != nil {
		hash, salt, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, err
		}
		p.PasswordHash, p.PasswordSalt = &hash, &salt
	}

	u, err := s.repo.Update(ctx, id, p)
	if err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	s.logger.Infow("profile updated", "user_id", id, "password_changed", in.Password != nil)
	return u, nil
}
