// Package config loads the environment-driven configuration recognized by
// both the matchmaking gateway and the game gateway.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration. Both binaries load one of
// these at startup; fields irrelevant to a given binary are simply unused.
type Config struct {
	// GamePort is the game-gateway WebSocket/HTTP port (BACKEND_PORT, falls
	// back to PORT, default 3001).
	GamePort string
	// MatchmakerPort is the matchmaking-gateway port (PORT, default 3002).
	MatchmakerPort string

	// FrontendOrigins is the CORS allow-list parsed from FRONTEND_URL, in
	// addition to localhost.
	FrontendOrigins []string

	// MatchTokenSecret signs/verifies match tickets. Empty means dev mode:
	// bearer tokens are decoded unsigned, no match tickets are issued, and
	// room:join_matched accepts the bare roomId.
	MatchTokenSecret string

	// Fabric credentials. Presence of both AppID and AppSecret switches the Room Manager and
	// Matchmaker onto the Hathora-backed fabric adapter instead of the
	// local one.
	HathoraAppSecret string
	HathoraAppID     string
	HathoraToken     string

	// PlayersPerMatch is the matchmaker batch size (default 2).
	PlayersPerMatch int

	// RequireAuth forces bearer-token authentication even in dev.
	RequireAuth bool

	// Production gates fatal-on-missing-secret behavior (spec.md §6).
	Production bool

	// Redis connection. RedisAddr empty means room/player state is kept
	// in-process only; a restarted process loses in-flight rooms.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from the environment. Unlike a YAML-backed
// config, every key here has a sane default; Viper is used purely for its
// env-binding and type-coercion ergonomics, mirroring the override-after-
// defaults shape used elsewhere in the retrieved pack.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "3002")
	v.SetDefault("players_per_match", 2)
	v.SetDefault("require_auth", false)
	v.SetDefault("environment", "development")
	v.SetDefault("redis_db", 0)

	// PORT is read from the environment directly: its viper default is the
	// matchmaker's port, which must not leak into the game port.
	gamePort := v.GetString("backend_port")
	if gamePort == "" {
		gamePort = os.Getenv("PORT")
	}
	if gamePort == "" {
		gamePort = "3001"
	}

	cfg := &Config{
		GamePort:         gamePort,
		MatchmakerPort:   v.GetString("port"),
		FrontendOrigins:  parseOrigins(v.GetString("frontend_url")),
		MatchTokenSecret: v.GetString("match_token_secret"),
		HathoraAppSecret: v.GetString("hathora_app_secret"),
		HathoraAppID:     v.GetString("hathora_app_id"),
		HathoraToken:     v.GetString("hathora_token"),
		PlayersPerMatch:  v.GetInt("players_per_match"),
		RequireAuth:      v.GetBool("require_auth"),
		Production:       strings.EqualFold(v.GetString("environment"), "production"),
		RedisAddr:        v.GetString("redis_url"),
		RedisPassword:    v.GetString("redis_password"),
		RedisDB:          v.GetInt("redis_db"),
	}

	if cfg.PlayersPerMatch < 2 {
		cfg.PlayersPerMatch = 2
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Production {
		return nil
	}

	if c.MatchTokenSecret == "" {
		return fmt.Errorf("config: MATCH_TOKEN_SECRET is required in production")
	}

	if c.HathoraAppID == "" || c.HathoraAppSecret == "" {
		return fmt.Errorf("config: HATHORA_APP_ID and HATHORA_APP_SECRET are required in production")
	}

	return nil
}

// FabricEnabled reports whether Hathora credentials are present and the
// Room Manager / Matchmaker should provision rooms on the external fabric
// instead of hosting them in-process.
func (c *Config) FabricEnabled() bool {
	return c.HathoraAppID != "" && c.HathoraAppSecret != ""
}

func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}

	return origins
}

// MatchTicketTTL bounds every signed match ticket (spec.md §3, §4.D).
const MatchTicketTTL = 60 * time.Second
