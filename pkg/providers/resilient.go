package providers

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/lab-analysis-server/internal/domain"
)

// ResilientProvider wraps an AnalysisProvider with a circuit breaker and an
// optional result cache. When the breaker is open a cached result still
// serves the request; otherwise the failure surfaces as a ProviderError.
type ResilientProvider struct {
	inner   domain.AnalysisProvider
	breaker *gobreaker.CircuitBreaker
	cache   *ResultCache
	log     *logrus.Logger
}

// NewResilientProvider wraps inner with breaker and cache. cache may be nil.
func NewResilientProvider(inner domain.AnalysisProvider, cache *ResultCache, logger *logrus.Logger) *ResilientProvider {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// A caller hanging up says nothing about provider health; only count
		// failures the provider itself produced.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("Provider circuit breaker state changed")
		},
	})

	return &ResilientProvider{
		inner:   inner,
		breaker: breaker,
		cache:   cache,
		log:     logger,
	}
}

// Name returns the wrapped provider's identifier.
func (r *ResilientProvider) Name() string {
	return r.inner.Name()
}

// State exposes the breaker state for health reporting.
func (r *ResilientProvider) State() gobreaker.State {
	return r.breaker.State()
}

// Analyze serves from cache when possible, otherwise calls the wrapped
// provider through the circuit breaker and caches the outcome.
func (r *ResilientProvider) Analyze(ctx context.Context, req *domain.AnalysisRequest) (*domain.ProviderAnalysisResult, error) {
	if r.cache != nil {
		if cached, found, err := r.cache.Get(ctx, r.inner.Name(), req); err == nil && found {
			r.log.WithFields(logrus.Fields{
				"provider":   r.inner.Name(),
				"request_id": req.RequestID,
			}).Debug("Serving provider analysis from cache")
			return cached, nil
		}
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Analyze(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			if r.cache != nil {
				if cached, found, cacheErr := r.cache.Get(ctx, r.inner.Name(), req); cacheErr == nil && found {
					return cached, nil
				}
			}
			return nil, domain.NewProviderError(r.inner.Name(), "provider unavailable (circuit breaker open)", err)
		}
		if pe, ok := err.(*domain.ProviderError); ok {
			return nil, pe
		}
		return nil, domain.NewProviderError(r.inner.Name(), "provider call failed", err)
	}

	analysis := result.(*domain.ProviderAnalysisResult)

	if r.cache != nil {
		if cacheErr := r.cache.Set(ctx, r.inner.Name(), req, analysis); cacheErr != nil {
			r.log.WithError(cacheErr).WithField("provider", r.inner.Name()).
				Warn("Failed to cache provider analysis")
		}
	}

	return analysis, nil
}
