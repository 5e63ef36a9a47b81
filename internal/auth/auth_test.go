package auth

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/readerstudy/internal/audit"
	"github.com/tphakala/readerstudy/internal/datastore"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/datastore/repository"
	"github.com/tphakala/readerstudy/internal/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// captureSink keeps recorded audit events in memory.
type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Record(_ context.Context, ev audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) actions() []audit.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Action, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Action)
	}
	return out
}

func setupReaders(t *testing.T) repository.ReaderRepository {
	t.Helper()

	mgr, err := datastore.NewSQLiteManager(filepath.Join(t.TempDir(), "auth.db"), datastore.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	require.NoError(t, mgr.Initialize())

	return repository.NewReaderRepository(mgr.DB())
}

func createReader(t *testing.T, repo repository.ReaderRepository, code, password string, active bool) *entities.Reader {
	t.Helper()

	hash, err := HashPassword(password)
	require.NoError(t, err)
	group := 2
	r := &entities.Reader{
		ReaderCode:   code,
		Name:         "Dr. " + code,
		PasswordHash: hash,
		Role:         entities.RoleReader,
		GroupNumber:  &group,
		IsActive:     active,
	}
	require.NoError(t, repo.Create(context.Background(), r))
	return r
}

func TestHashPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))

	_, err = HashPassword("short")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestTokenService_RoundTrip(t *testing.T) {
	t.Parallel()

	svc := NewTokenService(testSecret, time.Hour)
	group := 3
	id := Identity{ReaderID: 7, ReaderCode: "R007", Role: entities.RoleReader, Group: &group}

	token, expiresAt, err := svc.Issue(id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.Identity())
	assert.Equal(t, "R007", claims.Subject)
}

func TestTokenService_Rejects(t *testing.T) {
	t.Parallel()

	svc := NewTokenService(testSecret, time.Minute)
	id := Identity{ReaderID: 1, ReaderCode: "ADM", Role: entities.RoleAdmin}

	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		past := NewTokenService(testSecret, time.Minute)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, err := past.Issue(id)
		require.NoError(t, err)

		_, err = svc.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		other := NewTokenService("ffffffffffffffffffffffffffffffff", time.Minute)
		token, _, err := other.Issue(id)
		require.NoError(t, err)

		_, err = svc.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		t.Parallel()
		claims := &Claims{ReaderID: 1, RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		t.Parallel()
		_, err := svc.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestService_Login(t *testing.T) {
	repo := setupReaders(t)
	reader := createReader(t, repo, "R001", "password-1", true)
	createReader(t, repo, "R002", "password-2", false)

	sink := &captureSink{}
	svc := NewService(repo, NewTokenService(testSecret, time.Hour), sink, nil)
	ctx := context.Background()

	res, err := svc.Login(ctx, "R001", "password-1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, reader.ID, res.Identity.ReaderID)
	require.NotNil(t, res.Identity.Group)
	assert.Equal(t, 2, *res.Identity.Group)

	claims, err := svc.Tokens().Parse(res.Token)
	require.NoError(t, err)
	assert.Equal(t, reader.ID, claims.ReaderID)

	stored, err := repo.GetByID(ctx, reader.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	_, err = svc.Login(ctx, "R001", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "NOBODY", "password-1")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "R002", "password-2")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthentication))

	svc.Logout(ctx, res.Identity)

	assert.Equal(t, []audit.Action{
		audit.ActionLogin,
		audit.ActionLoginFailed,
		audit.ActionLoginFailed,
		audit.ActionLoginFailed,
		audit.ActionLogout,
	}, sink.actions())
}
