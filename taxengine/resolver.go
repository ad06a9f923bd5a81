package taxengine

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// DefaultJurisdiction holds the rate used for jurisdictions without their own.
	DefaultJurisdiction = "DEFAULT"
	// FallbackIvaRate applies when not even DEFAULT is configured.
	FallbackIvaRate = 0.21
)

// ProfileResolver reads through the cache to the repository and fills the
// cache on the way back.
type ProfileResolver struct {
	repo   ProfileRepository
	cache  ProfileCache
	logger *zap.Logger
}

func NewProfileResolver(repo ProfileRepository, cache ProfileCache, logger *zap.Logger) *ProfileResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileResolver{repo: repo, cache: cache, logger: logger.Named("resolver")}
}

// Resolve returns the profile of clientID, or nil if it exists nowhere.
func (r *ProfileResolver) Resolve(ctx context.Context, clientID string) (*Profile, error) {
	profile, err := r.cache.GetProfile(ctx, clientID)
	if err != nil {
		return nil, errors.Wrap(err, "read profile cache")
	}
	if profile != nil {
		r.logger.Debug("profile cache hit", zap.String("client_id", clientID))
		return profile, nil
	}

	r.logger.Info("profile cache miss", zap.String("client_id", clientID))
	profile, err = r.repo.GetProfile(ctx, clientID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch profile")
	}
	if profile == nil {
		return nil, nil
	}
	if err := r.cache.SetProfile(ctx, profile); err != nil {
		return nil, errors.Wrap(err, "populate profile cache")
	}
	return profile, nil
}

// ResolveIvaRate returns the IVA rate of jurisdiction: cache, then the
// repository, then the repository's DEFAULT entry (cached under the
// requested jurisdiction), then FallbackIvaRate.
func (r *ProfileResolver) ResolveIvaRate(ctx context.Context, jurisdiction string) (float64, error) {
	cached, err := r.cache.GetIvaRate(ctx, jurisdiction)
	if err != nil {
		return 0, errors.Wrap(err, "read rate cache")
	}
	if cached != nil {
		r.logger.Debug("rate cache hit", zap.String("jurisdiction", jurisdiction))
		return cached.Rate, nil
	}

	r.logger.Info("rate cache miss", zap.String("jurisdiction", jurisdiction))
	rate, err := r.repo.GetIvaRate(ctx, jurisdiction)
	if err != nil {
		return 0, errors.Wrapf(err, "fetch rate of %s", jurisdiction)
	}
	if rate != nil {
		if err := r.cache.SetIvaRate(ctx, rate); err != nil {
			return 0, errors.Wrap(err, "populate rate cache")
		}
		return rate.Rate, nil
	}

	def, err := r.repo.GetIvaRate(ctx, DefaultJurisdiction)
	if err != nil {
		return 0, errors.Wrap(err, "fetch default rate")
	}
	if def != nil {
		// Cache under the requested jurisdiction so the next lookup hits.
		if err := r.cache.SetIvaRate(ctx, &IvaRate{Jurisdiction: jurisdiction, Rate: def.Rate}); err != nil {
			return 0, errors.Wrap(err, "populate rate cache")
		}
		return def.Rate, nil
	}

	r.logger.Warn("no rate configured, using fallback",
		zap.String("jurisdiction", jurisdiction),
		zap.Float64("rate", FallbackIvaRate),
	)
	return FallbackIvaRate, nil
}
