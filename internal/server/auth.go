package server

import (
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService is the identity collaborator: it issues tokens at signup/login
// and resolves a presented token back to a durable PlayerIdentity. The
// coordinator itself never stores credentials.
type AuthService struct {
	secret []byte
	ttl    time.Duration
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{
		secret: []byte(secret),
		ttl:    6 * time.Hour,
	}
}

type tokenClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (a *AuthService) IssueToken(playerID, username string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken returns the PlayerIdentity a token was issued to.
func (a *AuthService) VerifyToken(raw string) (string, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return "", fmt.Errorf("UNAUTHORIZED: invalid token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("UNAUTHORIZED: invalid token")
	}
	return claims.Subject, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword enforces at least 8 characters with one digit, one
// lowercase and one uppercase letter.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("PASSWORD_INVALID: password needs at least 8 characters")
	}
	var hasDigit, hasLower, hasUpper bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		}
	}
	if !hasDigit || !hasLower || !hasUpper {
		return errors.New("PASSWORD_INVALID: password must contain at least one number, one lowercase and one uppercase letter")
	}
	return nil
}

// ValidateUsername checks username requirements for signup.
func ValidateUsername(username string) error {
	if len(username) == 0 {
		return errors.New("USERNAME_INVALID: username cannot be empty")
	}
	if len(username) > 20 {
		return errors.New("USERNAME_INVALID: username too long (max 20 characters)")
	}
	return nil
}
