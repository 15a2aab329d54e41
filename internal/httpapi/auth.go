package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"pharmapos/backend/internal/credential"
	"pharmapos/backend/internal/domain"
)

const (
	userStoreTimeout = 3 * time.Second
	tokenIssuer      = "pharmapos"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

// AccountReader is the slice of the repository login needs. Accounts are
// read on every login so cashiers added on another terminal can sign in
// straight away.
type AccountReader interface {
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager signs in till users, checks bearer tokens and holds the
// manager PIN that authorises returns.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	pinHash  string
	accounts AccountReader
	logger   *zap.Logger
	clock    func() time.Time
}

type tillClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, accounts AccountReader, logger *zap.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// An unset PIN leaves pinHash empty, which no input verifies against.
	var pinHash string
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		hashed, err := credential.Hash(pin)
		if err != nil {
			logger.Error("manager PIN could not be hashed; returns are disabled", zap.Error(err))
		}
		pinHash = hashed
	}

	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		pinHash:  pinHash,
		accounts: accounts,
		logger:   logger.Named("auth"),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	account, err := a.findAccount(ctx, username)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	ok, upgrade := credential.VerifyLegacy(account.Password, req.Password)
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}
	if upgrade {
		a.upgradePassword(ctx, username, req.Password)
	}

	expiresAt := a.clock().Add(a.tokenTTL)
	token, err := a.sign(username, account.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) findAccount(ctx context.Context, username string) (domain.UserAccount, error) {
	if a.accounts == nil || username == "" {
		return domain.UserAccount{}, errInvalidCredentials
	}
	ctx, cancel := context.WithTimeout(ctx, userStoreTimeout)
	defer cancel()

	users, err := a.accounts.ListUsers(ctx)
	if err != nil {
		a.logger.Warn("failed to load accounts", zap.Error(err))
		return domain.UserAccount{}, errInvalidCredentials
	}
	for _, user := range users {
		if strings.ToLower(strings.TrimSpace(user.Username)) == username {
			return user, nil
		}
	}
	return domain.UserAccount{}, errInvalidCredentials
}

// upgradePassword replaces a plain-text password with its hash after a
// successful login. Failure is logged; the login still succeeds.
func (a *AuthManager) upgradePassword(ctx context.Context, username string, password string) {
	hashed, err := credential.Hash(password)
	if err == nil {
		err = a.accounts.UpdateUserPassword(ctx, username, hashed)
	}
	if err != nil {
		a.logger.Warn("failed to upgrade legacy password", zap.String("username", username), zap.Error(err))
	}
}

func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	claims := &tillClaims{}
	token, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Actor{}, errInvalidToken
	}
	if claims.Subject == "" || claims.Role == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username string, role string, expiresAt time.Time) (string, error) {
	claims := tillClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(a.clock()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	return credential.Verify(a.pinHash, strings.TrimSpace(pin))
}
