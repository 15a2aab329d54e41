package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"pharmapos/backend/internal/apperror"
	"pharmapos/backend/internal/cache"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/store"
	"pharmapos/backend/internal/xid"
)

const (
	defaultShopID       = "main-shop"
	defaultReturnWindow = 7 * 24 * time.Hour
	defaultLookupLimit  = 20
	defaultCatalogTTL   = 15 * time.Second
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options tunes a Service. Zero values fall back to the shop defaults.
type Options struct {
	ShopID       string
	ReturnWindow time.Duration
	LookupLimit  int
	CatalogTTL   time.Duration
	// Now is the clock used for sale dates and return-window checks.
	Now func() time.Time
}

type Service struct {
	repo         store.Repository
	catalog      cache.CatalogCache
	logger       *zap.Logger
	shopID       string
	returnWindow time.Duration
	lookupLimit  int
	catalogTTL   time.Duration
	now          func() time.Time
}

func New(repo store.Repository, catalog cache.CatalogCache, logger *zap.Logger, opts Options) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShopID == "" {
		opts.ShopID = defaultShopID
	}
	if opts.ReturnWindow <= 0 {
		opts.ReturnWindow = defaultReturnWindow
	}
	if opts.LookupLimit < 1 {
		opts.LookupLimit = defaultLookupLimit
	}
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = defaultCatalogTTL
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:         repo,
		catalog:      catalog,
		logger:       logger.Named("service"),
		shopID:       opts.ShopID,
		returnWindow: opts.ReturnWindow,
		lookupLimit:  opts.LookupLimit,
		catalogTTL:   opts.CatalogTTL,
		now:          opts.Now,
	}
}

func (s *Service) ShopID() string {
	return s.shopID
}

// ownedBy reports whether a record belongs to this service's shop. Records
// of other shops are treated as missing.
func (s *Service) ownedBy(shopID string) bool {
	return shopID == s.shopID
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ShopID:        s.shopID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

// invalidateCatalog drops cached listings after a stock change. A failure
// only means readers may see stale stock until the TTL expires.
func (s *Service) invalidateCatalog(ctx context.Context, itemTypes ...domain.ItemType) {
	if err := s.catalog.Invalidate(ctx, s.shopID, itemTypes...); err != nil {
		s.logger.Warn("failed to invalidate catalog cache", zap.String("shop_id", s.shopID), zap.Error(err))
	}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Actor{}, apperror.Forbidden("admin role required")
	}
	return actor, nil
}

// classify leaves already-classified errors alone and wraps the rest as a
// persistence failure for op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Persistence(op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
