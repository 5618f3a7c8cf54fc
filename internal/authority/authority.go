// Package authority answers whether a principal administers a workspace.
// Providers are read-only; membership is managed outside this service.
package authority

import (
	"fmt"
	"strconv"
	"time"

	"grant-workers/internal/common/auth"
	"grant-workers/internal/common/config"
	"grant-workers/internal/common/database"
	"grant-workers/internal/common/logger"
	"grant-workers/internal/grants"

	"github.com/redis/go-redis/v9"
)

const (
	ProviderPostgres = "postgres"
	ProviderKeycloak = "keycloak"
	ProviderStatic   = "static"
)

// Dependencies are the connections a provider may need. Only the ones the
// configured provider uses have to be set.
type Dependencies struct {
	Postgres *database.PostgresClient
	Keycloak *auth.KeycloakClient
	Redis    *redis.Client
}

// New builds the configured provider and, when cache_ttl is positive,
// wraps it in a redis cache.
func New(cfg config.AuthorityConfig, deps Dependencies, log logger.Logger) (grants.AuthorityProvider, error) {
	var provider grants.AuthorityProvider

	switch cfg.Provider {
	case ProviderPostgres:
		if deps.Postgres == nil {
			return nil, fmt.Errorf("authority provider %q needs a postgres connection", cfg.Provider)
		}
		provider = NewPostgres(deps.Postgres)
	case ProviderKeycloak:
		if deps.Keycloak == nil {
			return nil, fmt.Errorf("authority provider %q needs a keycloak client", cfg.Provider)
		}
		provider = NewKeycloak(deps.Keycloak, cfg.GroupPattern)
	case ProviderStatic:
		static, err := NewStatic(cfg.StaticAdmins)
		if err != nil {
			return nil, err
		}
		provider = static
	default:
		return nil, fmt.Errorf("unknown authority provider %q", cfg.Provider)
	}

	if cfg.CacheTTL > 0 && deps.Redis != nil {
		provider = NewCached(provider, deps.Redis, time.Duration(cfg.CacheTTL)*time.Millisecond, log)
	}

	log.Info("authority provider ready", map[string]interface{}{
		"provider": cfg.Provider,
		"cached":   cfg.CacheTTL > 0 && deps.Redis != nil,
	})
	return provider, nil
}

// Static is a fixed admin list, used for local runs and tests.
type Static struct {
	admins map[uint64]map[string]bool
}

// NewStatic parses a workspace id -> principals map as found in config.
func NewStatic(admins map[string][]string) (*Static, error) {
	s := &Static{admins: make(map[uint64]map[string]bool, len(admins))}
	for key, principals := range admins {
		ws, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("static_admins: workspace id %q is not a number: %w", key, err)
		}
		set := make(map[string]bool, len(principals))
		for _, p := range principals {
			set[p] = true
		}
		s.admins[ws] = set
	}
	return s, nil
}
