package auth

import (
	"context"
	"time"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/errors"
	"github.com/tphakala/readerstudy/internal/logger"
)

// Sentinel errors for authentication failures.
var (
	ErrInvalidCredentials = errors.New(errors.NewStd("invalid reader code or password")).
				Component("auth").
				Category(errors.CategoryAuthentication).
				Build()
	ErrInvalidToken = errors.New(errors.NewStd("invalid or expired token")).
			Component("auth").
			Category(errors.CategoryAuthentication).
			Build()
)

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  Identity  `json:"reader"`
	Name      string    `json:"name"`
}

// Service authenticates readers against the datastore.
type Service struct {
	readers repository.ReaderRepository
	tokens  *TokenService
	audit   audit.Sink
	log     logger.Logger
	now     func() time.Time
}

// NewService creates an authentication Service. log may be nil.
func NewService(readers repository.ReaderRepository, tokens *TokenService, sink audit.Sink, log logger.Logger) *Service {
	return &Service{
		readers: readers,
		tokens:  tokens,
		audit:   sink,
		log:     log,
		now:     time.Now,
	}
}

// Tokens returns the token service used to verify requests.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// Login checks credentials and issues a token. Unknown codes, wrong
// passwords and inactive readers all yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, readerCode, password string) (*LoginResult, error) {
	reader, err := s.readers.GetByCode(ctx, readerCode)
	if err != nil && !errors.Is(err, repository.ErrReaderNotFound) {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryDatabase).
			Build()
	}

	if reader == nil || !reader.IsActive || !CheckPassword(reader.PasswordHash, password) {
		ev := audit.Event{
			Action:       audit.ActionLoginFailed,
			ResourceType: audit.ResourceReader,
			ResourceID:   readerCode,
		}
		if reader != nil {
			ev.ReaderID = &reader.ID
			ev.Details = map[string]any{"inactive": !reader.IsActive}
		}
		s.audit.Record(ctx, ev)
		return nil, ErrInvalidCredentials
	}

	id := IdentityOf(reader)
	token, expiresAt, err := s.tokens.Issue(id)
	if err != nil {
		return nil, err
	}

	if err := s.readers.TouchLastLogin(ctx, reader.ID, s.now().UTC()); err != nil && s.log != nil {
		s.log.WithContext(ctx).Warn("failed to stamp last login",
			logger.String("reader_code", reader.ReaderCode),
			logger.Error(err))
	}

	s.audit.Record(ctx, audit.Event{
		ReaderID:     &reader.ID,
		Action:       audit.ActionLogin,
		ResourceType: audit.ResourceReader,
		ResourceID:   reader.ReaderCode,
	})

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Identity:  id,
		Name:      reader.Name,
	}, nil
}

// Logout records the logout. Tokens are stateless and expire on their own.
func (s *Service) Logout(ctx context.Context, id Identity) {
	s.audit.Record(ctx, audit.Event{
		ReaderID:     &id.ReaderID,
		Action:       audit.ActionLogout,
		ResourceType: audit.ResourceReader,
		ResourceID:   id.ReaderCode,
	})
}
