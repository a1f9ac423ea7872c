package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/olincollege/omg-exchange/internal/exchange"
	"github.com/olincollege/omg-exchange/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Service handles registration and authentication for both the TCP session
// layer and the HTTP API. Passwords are stored as bcrypt hashes; the hash
// preserves the reference system's equality-check contract.
type Service struct {
	store  exchange.Store
	secret []byte
}

// NewService creates an auth service over the given store.
func NewService(store exchange.Store, secret string) *Service {
	return &Service{store: store, secret: []byte(secret)}
}

// Register creates a new user with a hashed password and the default
// starting balances.
func (s *Service) Register(ctx context.Context, username, password, name string) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}
	if name == "" {
		name = username
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreateUser(ctx, username, string(hashed), name, models.DefaultBalances())
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and returns the authenticated user.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, err
	}
	return user, nil
}

// Token generates a signed JWT for a user, used by the HTTP API.
func (s *Service) Token(user *models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	})
	return token.SignedString(s.secret)
}

// UserFromToken extracts the user id from a JWT.
func (s *Service) UserFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}
	return int(userID), nil
}
