package httpapi

import (
	"context"
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"elektromart/backend/internal/domain"
)

const tokenIssuer = "elektromart"

// Authenticator checks employee credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username string, password string) (domain.Employee, error)
}

type AuthManager struct {
	secret        []byte
	tokenTTL      time.Duration
	authenticator Authenticator
	now           func() time.Time
}

type employeeClaims struct {
	jwtlib.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, authenticator Authenticator) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:        []byte(secret),
		tokenTTL:      tokenTTL,
		authenticator: authenticator,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	employee, err := a.authenticator.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(employee, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        employee.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken turns a bearer token back into the acting employee. The
// subject is the employee id.
func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &employeeClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{EmployeeID: sub, Username: claims.Username, Role: claims.Role}, nil
}

func (a *AuthManager) sign(employee domain.Employee, expiresAt time.Time) (string, error) {
	claims := employeeClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   employee.ID,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Username: employee.Username,
		Role:     employee.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
