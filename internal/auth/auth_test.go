package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olincollege/omg-exchange/internal/db"
	"github.com/olincollege/omg-exchange/internal/exchange"
	"github.com/olincollege/omg-exchange/internal/models"
)

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(db.NewMemStore(), "test-secret")
}

func TestRegisterGrantsDefaultBalances(t *testing.T) {
	svc := newService(t)
	user, err := svc.Register(context.Background(), "alice", "password123", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, models.DefaultBalances(), user.Balances)
	assert.NotEqual(t, "password123", user.PasswordHash)
}

func TestRegisterDefaultsNameToUsername(t *testing.T) {
	svc := newService(t)
	user, err := svc.Register(context.Background(), "bob", "password123", "")
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Name)
}

func TestRegisterRejectsEmptyCredentials(t *testing.T) {
	svc := newService(t)
	_, err := svc.Register(context.Background(), "", "password123", "")
	assert.Error(t, err)
	_, err = svc.Register(context.Background(), "alice", "", "")
	assert.Error(t, err)
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc := newService(t)
	_, err := svc.Register(context.Background(), "alice", "password123", "")
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), "alice", "password456", "")
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	svc := newService(t)
	registered, err := svc.Register(context.Background(), "alice", "password123", "")
	require.NoError(t, err)

	user, err := svc.Login(context.Background(), "alice", "password123")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	_, err = svc.Login(context.Background(), "alice", "wrongpass1")
	assert.Error(t, err)

	_, err = svc.Login(context.Background(), "nobody", "password123")
	assert.ErrorIs(t, err, exchange.ErrUserNotFound)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newService(t)
	user, err := svc.Register(context.Background(), "alice", "password123", "")
	require.NoError(t, err)

	token, err := svc.Token(user)
	require.NoError(t, err)

	id, err := svc.UserFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	store := db.NewMemStore()
	svc := NewService(store, "secret-a")
	other := NewService(store, "secret-b")

	user, err := svc.Register(context.Background(), "alice", "password123", "")
	require.NoError(t, err)
	token, err := svc.Token(user)
	require.NoError(t, err)

	_, err = other.UserFromToken(token)
	assert.Error(t, err)

	_, err = svc.UserFromToken("not-a-token")
	assert.Error(t, err)
}
