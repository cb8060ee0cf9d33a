package engine

import (
	"time"

	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// TimezoneProvider maps a contact to the location local-time delays resolve
// in. Implementations fall back to the engine's reference location when the
// contact carries no usable zone.
type TimezoneProvider interface {
	Location(contactId string) *time.Location
	// Reference is the engine-wide location used when a flow does not run
	// on contact-local time.
	Reference() *time.Location
}

type propertyTimezoneProvider struct {
	store    persistence.PropertyStore
	fallback *time.Location
	cache    *cache.Cache
}

// NewTimezoneProvider reads the contact's reserved timezone property and
// caches the loaded location. Unknown or missing zones fall back without
// failing the delay.
func NewTimezoneProvider(store persistence.PropertyStore, fallback *time.Location) TimezoneProvider {
	return &propertyTimezoneProvider{
		store:    store,
		fallback: fallback,
		cache:    cache.New(10*time.Minute, 30*time.Minute),
	}
}

func (p *propertyTimezoneProvider) Location(contactId string) *time.Location {
	value, err := p.store.GetProperty(contactId, model.TimezoneProperty)
	if err != nil || value == nil {
		return p.fallback
	}
	name, ok := value.(string)
	if !ok || name == "" {
		return p.fallback
	}
	if cached, ok := p.cache.Get(name); ok {
		return cached.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("unknown contact timezone", zap.String("contact", contactId), zap.String("zone", name))
		return p.fallback
	}
	p.cache.Set(name, loc, cache.DefaultExpiration)
	return loc
}

func (p *propertyTimezoneProvider) Reference() *time.Location {
	return p.fallback
}
