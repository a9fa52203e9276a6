package answer

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAnswerer attempts a primary answerer first and falls back on error.
type FallbackAnswerer struct {
	primary  Answerer
	fallback Answerer
}

func NewFallbackAnswerer(primary Answerer, fallback Answerer) *FallbackAnswerer {
	return &FallbackAnswerer{
		primary:  primary,
		fallback: fallback,
	}
}

// Primary returns the preferred answerer used before fallback.
func (a *FallbackAnswerer) Primary() Answerer {
	if a == nil {
		return nil
	}
	return a.primary
}

// Secondary returns the fallback answerer.
func (a *FallbackAnswerer) Secondary() Answerer {
	if a == nil {
		return nil
	}
	return a.fallback
}

func (a *FallbackAnswerer) Answer(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.primary == nil {
		if a != nil && a.fallback != nil {
			return a.fallback.Answer(ctx, req)
		}
		return Response{}, fmt.Errorf("fallback answerer misconfigured")
	}

	resp, err := a.primary.Answer(ctx, req)
	if err == nil {
		return resp, nil
	}
	// The caller gave up; do not paper over it.
	if errors.Is(ctx.Err(), context.Canceled) {
		return Response{}, err
	}
	if a.fallback == nil {
		return Response{}, err
	}
	fallbackResp, fallbackErr := a.fallback.Answer(ctx, req)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary answerer error: %w; fallback answerer error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
