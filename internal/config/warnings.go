package config

// WarningCode identifies a non-fatal configuration concern surfaced by Warnings.
type WarningCode string

const (
	// WarningCacheDualWithoutRedis fires when the cache type is "dual" but no
	// Redis address is configured, silently degrading to local-only caching.
	WarningCacheDualWithoutRedis WarningCode = "cache_dual_without_redis"
)

// Warning describes a non-fatal configuration concern.
type Warning struct {
	Code    WarningCode
	Message string
}

// Warnings returns non-fatal configuration concerns that Validate does not
// reject outright but that likely indicate a misconfiguration.
func (c *Config) Warnings() []Warning {
	var warnings []Warning

	if c.Cache.Enabled && c.Cache.Type == "dual" && !hasRedisConfig(c.Cache.Redis) {
		warnings = append(warnings, Warning{
			Code:    WarningCacheDualWithoutRedis,
			Message: "cache.type is dual but no redis address is configured; falling back to local-only caching",
		})
	}

	return warnings
}
