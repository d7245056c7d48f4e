package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/scentara/storefront-cart/internal/domain"
	"github.com/scentara/storefront-cart/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type ProductSource interface {
	Products(ctx context.Context) ([]domain.Product, error)
}

// Service serves catalog snapshots cache-aside. cache may be nil.
type Service struct {
	source ProductSource
	cache  SnapshotCache
	sfg    singleflight.Group // Prevents cache stampede
	log    *zap.Logger
}

func NewService(source ProductSource, cache SnapshotCache, log *zap.Logger) *Service {
	return &Service{
		source: source,
		cache:  cache,
		log:    logger.OrNop(log),
	}
}

func (s *Service) Snapshot(ctx context.Context) (*domain.Catalog, error) {
	v, err, _ := s.sfg.Do(snapshotKey, func() (interface{}, error) {
		if s.cache != nil {
			products, err := s.cache.Get(ctx)
			if err == nil {
				return domain.NewCatalog(products), nil
			}
			if !errors.Is(err, ErrCacheMiss) {
				s.log.Warn("catalog cache get error", zap.Error(err)) // continue to the source
			}
		}

		products, err := s.source.Products(ctx)
		if err != nil {
			return nil, err
		}

		if s.cache != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := s.cache.Set(ctx, products); err != nil {
					s.log.Warn("catalog cache set error", zap.Error(err))
				}
			}()
		}

		return domain.NewCatalog(products), nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Catalog), nil
}

// Invalidate drops the cached snapshot so the next Snapshot refetches.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx)
}
