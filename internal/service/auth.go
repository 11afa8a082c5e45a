package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"elektromart/backend/internal/domain"
	"elektromart/backend/internal/store"
	"elektromart/backend/internal/xid"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticate checks a username and password against the employee table.
// Unknown users, wrong passwords and inactive accounts look the same.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.Employee, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return domain.Employee{}, ErrInvalidCredentials
	}
	employee, err := s.repo.GetEmployeeByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Employee{}, ErrInvalidCredentials
		}
		return domain.Employee{}, err
	}
	if !employee.Active || !verifyPassword(employee.PasswordHash, password) {
		return domain.Employee{}, ErrInvalidCredentials
	}
	return *employee, nil
}

// EnsureAdmin creates an admin employee with the given credentials unless
// the username already exists. Used at startup against an empty database.
func (s *Service) EnsureAdmin(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || len(password) < 8 {
		return domain.NewValidationError("password", "bootstrap admin password must be at least 8 characters")
	}
	if _, err := s.repo.GetEmployeeByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	created, err := s.repo.CreateEmployee(ctx, domain.Employee{
		ID:           xid.New("emp"),
		Name:         "Administrator",
		Username:     username,
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		Active:       true,
		CreatedAt:    s.now(),
	})
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logAudit(ctx, domain.Actor{}, "employee_bootstrap", "employee", created.ID, "username="+created.Username)
	s.logger.Info("bootstrap admin created", zap.String("username", created.Username))
	return nil
}

func verifyPassword(hash string, input string) bool {
	if hash == "" || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}
