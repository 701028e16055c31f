package profile

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kalambet/wachat/internal/crm"
	"github.com/kalambet/wachat/internal/memory"
)

// Profile is the user profile the pipeline personalizes against. Built from
// the CRM contact; degrades to a minimal shape when the CRM is unavailable.
type Profile struct {
	ID           string
	DisplayName  string
	Phone        string
	Email        string
	Source       string
	Tags         []string
	CustomFields map[string]string
	LastActivity time.Time

	// Minimal reports that this profile was synthesized because the CRM
	// lookup failed or found nothing. Minimal profiles are never cached.
	Minimal bool
}

const unknownContactName = "Unknown Contact"

// Resolver fetches CRM profiles with a freshness TTL. At most one cached
// profile exists per phone identity; lookup misses are not cached so the next
// call retries the live fetch.
type Resolver struct {
	crm    crm.Client
	cache  *memory.Cache[string, Profile]
	logger zerolog.Logger
}

// NewResolver creates a Resolver caching profiles for the given TTL.
func NewResolver(client crm.Client, ttl time.Duration, logger zerolog.Logger) *Resolver {
	return &Resolver{
		crm:    client,
		cache:  memory.NewCache[string, Profile](ttl, 0),
		logger: logger,
	}
}

// NewResolverWithCache creates a Resolver over an externally constructed
// cache (for tests that need clock control).
func NewResolverWithCache(client crm.Client, cache *memory.Cache[string, Profile], logger zerolog.Logger) *Resolver {
	return &Resolver{crm: client, cache: cache, logger: logger}
}

// Resolve returns the profile for a phone identity: cached if fresh,
// otherwise fetched from the CRM. On fetch failure or a missing contact it
// returns a minimal profile without caching it.
func (r *Resolver) Resolve(ctx context.Context, phone string) Profile {
	if p, ok := r.cache.Get(phone); ok {
		return p
	}

	contact, err := r.crm.FindContactByPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, crm.ErrContactNotFound) {
			r.logger.Warn().Err(err).Str("phone", phone).Msg("CRM lookup failed, using minimal profile")
		}
		return minimalProfile(phone)
	}

	p := Profile{
		ID:           contact.ID,
		DisplayName:  contact.DisplayName(),
		Phone:        phone,
		Email:        contact.Email,
		Source:       contact.Source,
		Tags:         contact.Tags,
		CustomFields: contact.CustomFields,
		LastActivity: contact.LastActivity,
	}
	r.cache.Set(phone, p)
	return p
}

// Invalidate drops the cached profile for a phone, forcing the next Resolve
// to hit the CRM. Called after the agent mutates the contact.
func (r *Resolver) Invalidate(phone string) {
	r.cache.Delete(phone)
}

func minimalProfile(phone string) Profile {
	return Profile{
		Phone:       phone,
		DisplayName: unknownContactName,
		Tags:        []string{},
		Minimal:     true,
	}
}
