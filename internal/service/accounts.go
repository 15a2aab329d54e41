package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"pharmapos/backend/internal/apperror"
	"pharmapos/backend/internal/credential"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
)

// CreateCashier adds a till account with a bcrypt-hashed password. Usernames
// are stored lower-cased.
func (s *Service) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.CashierUser{}, err
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.CashierUser{}, apperror.Validation(apperror.CodeInvalidInput, "username must be at least 4 characters").
			WithDetail("field", "username")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.CashierUser{}, apperror.Validation(apperror.CodeInvalidInput, "username must not contain spaces").
			WithDetail("field", "username")
	}
	if len(req.Password) < 6 {
		return domain.CashierUser{}, apperror.Validation(apperror.CodeInvalidInput, "password must be at least 6 characters").
			WithDetail("field", "password")
	}

	hashed, err := credential.Hash(req.Password)
	if err != nil {
		return domain.CashierUser{}, apperror.Persistence("hash password", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hashed,
		Role:      "cashier",
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateUser(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.CashierUser{}, apperror.Validation(apperror.CodeUsernameTaken, "username already exists").
				WithDetail("username", username)
		}
		return domain.CashierUser{}, classify("create cashier", err)
	}

	s.logAudit(ctx, "cashier_create", "user", username, fmt.Sprintf("role=%s", account.Role))
	return cashierView(account), nil
}

func (s *Service) ListCashiers(ctx context.Context) ([]domain.CashierUser, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, classify("list users", err)
	}
	cashiers := make([]domain.CashierUser, 0, len(users))
	for _, user := range users {
		if user.Role == "cashier" {
			cashiers = append(cashiers, cashierView(user))
		}
	}
	slices.SortFunc(cashiers, func(a, b domain.CashierUser) int {
		return strings.Compare(a.Username, b.Username)
	})
	return cashiers, nil
}

func cashierView(user domain.UserAccount) domain.CashierUser {
	return domain.CashierUser{
		Username:  strings.ToLower(user.Username),
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}
}
