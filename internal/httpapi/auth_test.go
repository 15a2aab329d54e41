package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/backend/internal/credential"
	"pharmapos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	ctx := context.Background()
	store := legacyAdminStore()

	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)
	_, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NotEqual(t, "admin123", users[0].Password)
	assert.True(t, strings.HasPrefix(users[0].Password, "$2"), "expected bcrypt hash, got %s", users[0].Password)
	assert.GreaterOrEqual(t, store.updates, 1)
}

func TestLoginIsCaseInsensitiveOnUsername(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", legacyAdminStore(), nil)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "  ADMIN ", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, "admin", resp.Role)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", actor.Username)
	assert.Equal(t, "admin", actor.Role)
}

func TestLoginRejectsInactiveAndWrongPassword(t *testing.T) {
	store := legacyAdminStore()
	store.users["parttime"] = domain.UserAccount{Username: "parttime", Password: "shift-2", Role: "cashier", Active: false}
	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)
	ctx := context.Background()

	_, err := manager.Login(ctx, domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "parttime", Password: "shift-2"})
	assert.ErrorIs(t, err, errInactiveAccount)

	_, err = manager.Login(ctx, domain.LoginRequest{Username: "ghost", Password: "whatever"})
	assert.ErrorIs(t, err, errInvalidCredentials)
}

func TestParseTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	issuer := NewAuthManager("secret-a", time.Hour, "123456", legacyAdminStore(), nil)
	other := NewAuthManager("secret-b", time.Hour, "123456", nil, nil)

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	_, err = other.ParseToken(resp.AccessToken)
	assert.Error(t, err)

	expired, err := issuer.sign("admin", "admin", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	_, err = issuer.ParseToken(expired)
	assert.Error(t, err)
}

func TestLoginSeesAccountsAddedAfterStartup(t *testing.T) {
	ctx := context.Background()
	store := legacyAdminStore()
	manager := NewAuthManager("test-secret", time.Hour, "123456", store, nil)

	_, err := manager.Login(ctx, domain.LoginRequest{Username: "counter2", Password: "pass1234"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	hashed, err := credential.Hash("pass1234")
	require.NoError(t, err)
	store.users["counter2"] = domain.UserAccount{Username: "counter2", Password: hashed, Role: "cashier", Active: true}

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "Counter2", Password: "pass1234"})
	require.NoError(t, err)
	assert.Equal(t, "cashier", resp.Role)
	assert.Zero(t, store.updates, "hashed passwords are not rewritten")
}

func TestParseTokenRequiresRoleClaim(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", nil, nil)

	token, err := manager.sign("admin", "", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	_, err = manager.ParseToken(token)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", &userStoreStub{users: map[string]domain.UserAccount{}}, nil)

	assert.NotEqual(t, "654321", manager.pinHash)
	assert.True(t, credential.IsHash(manager.pinHash))
	assert.True(t, manager.ValidateManagerPIN("654321"))
	assert.True(t, manager.ValidateManagerPIN(" 654321 "))
	assert.False(t, manager.ValidateManagerPIN("111111"))
	assert.False(t, manager.ValidateManagerPIN(""))
}

func TestUnsetManagerPINRejectsEverything(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "  ", nil, nil)

	assert.Empty(t, manager.pinHash)
	assert.False(t, manager.ValidateManagerPIN(""))
	assert.False(t, manager.ValidateManagerPIN("disabled"))
}
