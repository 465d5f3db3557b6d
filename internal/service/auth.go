package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/RiiPPeR/chiclana-records-back/internal/db"
)

var (
	ErrLoginUserNotFound         = errors.New("user not found")
	ErrLoginPasswordDoesNotMatch = errors.New("password does not match")
	ErrUsernameTaken             = errors.New("username already taken")
	ErrEmailTaken                = errors.New("email already in use")
)

var Module = fx.Provide(NewAuth)

type Auth struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

func NewAuth(db *gorm.DB, l *zap.SugaredLogger) *Auth {
	return &Auth{
		db:     db,
		logger: l,
	}
}

func (s *Auth) Register(ctx context.Context, email, username, password string) (*db.User, error) {
	var count int64
	res := s.db.WithContext(ctx).Model(&db.User{}).Where("username = ?", username).Count(&count)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "check username")
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}

	hash, err := s.bcryptGen(password)
	if err != nil {
		return nil, errors.Wrap(err, "bcryptGen")
	}

	user := db.User{
		ID:           uuid.New().String(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Friends:      []string{},
	}
	res = s.db.WithContext(ctx).Create(&user)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			// Either unique column can have collided: a concurrent register
			// may have taken the username after the check above. Re-read to
			// report the right field.
			res = s.db.WithContext(ctx).Model(&db.User{}).Where("username = ?", username).Count(&count)
			if res.Error == nil && count > 0 {
				return nil, ErrUsernameTaken
			}
			return nil, ErrEmailTaken
		}
		return nil, res.Error
	}

	s.logger.Infow("user registered", "user_id", user.ID, "username", username)
	return &user, nil
}

// Login verifies the password and rotates the session token, invalidating any
// previous session for the user.
func (s *Auth) Login(ctx context.Context, email, password string) (*db.User, string, error) {
	user := db.User{}
	res := s.db.WithContext(ctx).Where("email = ?", email).First(&user)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, "", ErrLoginUserNotFound
		}
		return nil, "", res.Error
	}

	if err := s.bcryptCheck(user.PasswordHash, password); err != nil {
		return nil, "", ErrLoginPasswordDoesNotMatch
	}

	token := uuid.New().String()
	res = s.db.WithContext(ctx).Model(&user).Update("token", token)
	if res.Error != nil {
		return nil, "", errors.Wrap(res.Error, "update token")
	}

	s.logger.Infow("user signed in", "user_id", user.ID)
	return &user, token, nil
}

func (s *Auth) Logout(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", userID).Update("token", "")
	if res.Error != nil {
		return errors.Wrap(res.Error, "clear token")
	}
	return nil
}

// UserByToken resolves a session token to its user, for the auth middleware.
func (s *Auth) UserByToken(ctx context.Context, token string) (*db.User, error) {
	// Logged-out users keep an empty token column; never match on it.
	if token == "" {
		return nil, gorm.ErrRecordNotFound
	}
	user := db.User{}
	res := s.db.WithContext(ctx).Where("token = ?", token).First(&user)
	if res.Error != nil {
		return nil, res.Error
	}
	return &user, nil
}

func (s *Auth) bcryptGen(pass string) (string, error) {
	passwordHashB, err := bcrypt.GenerateFromPassword([]byte(pass), 14)
	if err != nil {
		return "", errors.Wrap(err, "generate password hash")
	}
	return string(passwordHashB), nil
}

func (s *Auth) bcryptCheck(hash, pass string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass))
}
