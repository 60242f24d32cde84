package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisConfig_Validation(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name: "Should fail validation with PingMaxRetries < 1",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_REDIS_PING_MAX_RETRIES": "0",
			}),
			wantErr: true,
		},
		{
			name: "Should parse valid PingMaxRetries and PingBackoff",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_REDIS_PING_MAX_RETRIES": "8",
				"LEADFLOW_REDIS_PING_BACKOFF":     "3s",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.Redis.PingMaxRetries)
				assert.Equal(t, 3*time.Second, cfg.Redis.PingBackoff)
			},
		},
		{
			name: "Should fail validation with invalid PingBackoff duration",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_REDIS_PING_BACKOFF": "notaduration",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation when Redis password missing in production",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				delete(cfg, "LEADFLOW_REDIS_PASSWORD")
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should fail validation when Redis TLS disabled in production",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				cfg["LEADFLOW_REDIS_TLS_ENABLED"] = "false"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should pass validation with Redis URL in production",
			envVars: productionWithRedisURL("rediss://:password@redis.example.com:6379/0"),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "rediss://:password@redis.example.com:6379/0", cfg.Redis.URL)
				assert.True(t, cfg.Redis.IsConfigured())
			},
		},
		{
			name: "Should fail validation when Redis MinIdleConns greater than PoolSize",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_REDIS_POOL_SIZE":      "20",
				"LEADFLOW_REDIS_MIN_IDLE_CONNS": "50",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on invalid Redis DB number",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_REDIS_DB": "16",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation on negative Redis DB number",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_REDIS_DB": "-1",
			}),
			wantErr: true,
		},
		{
			name: "Should allow passwordless Redis in development",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_APP_ENV":        "development",
				"LEADFLOW_REDIS_PASSWORD": "",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.App.Environment)
				assert.Equal(t, "", cfg.Redis.Password)
			},
		},
		{
			name: "Should fail validation with short Redis password in production",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				cfg["LEADFLOW_REDIS_PASSWORD"] = "short"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should fail validation with invalid Redis URL scheme",
			envVars: productionWithRedisURL("http://redis.example.com:6379/0"),
			wantErr: true,
		},
		{
			name: "Should fail validation with Redis URL having invalid DB number",
			envVars: productionWithRedisURL("redis://redis.example.com:6379/16"),
			wantErr: true,
		},
		{
			name: "Should fail validation with Redis URL having non-numeric DB",
			envVars: productionWithRedisURL("redis://redis.example.com:6379/abc"),
			wantErr: true,
		},
		{
			name: "Should skip Redis validation when it is not configured",
			envVars: func() map[string]string {
				env := minimalRequiredConfig()
				delete(env, "LEADFLOW_REDIS_HOST")
				delete(env, "LEADFLOW_REDIS_PORT")
				return env
			}(),
			want: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Redis.IsConfigured())
			},
		},
		{
			name: "Should fail validation when only the Redis host is set",
			envVars: func() map[string]string {
				env := minimalRequiredConfig()
				delete(env, "LEADFLOW_REDIS_PORT")
				return env
			}(),
			wantErr: true,
		},
		{
			name: "Should fail validation with non-numeric port",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_REDIS_PORT": "abc",
			}),
			wantErr: true,
		},
		{
			name: "Should fail validation with host containing leading whitespace",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_REDIS_HOST": " localhost",
			}),
			wantErr: true,
		},
	})
}

func TestRedisConfig_KeyPrefix(t *testing.T) {
	t.Run("Should default the key prefix", func(t *testing.T) {
		for key, value := range minimalRequiredConfig() {
			t.Setenv(key, value)
		}

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "leadflow", cfg.Redis.KeyPrefix)
	})

	t.Run("Should reject a key prefix with whitespace", func(t *testing.T) {
		for key, value := range mergeEnvVars(map[string]string{"LEADFLOW_REDIS_KEY_PREFIX": "lead flow"}) {
			t.Setenv(key, value)
		}

		_, err := Load()
		assert.Error(t, err)
	})
}

// productionWithRedisURL replaces the component Redis settings with a URL.
func productionWithRedisURL(redisURL string) map[string]string {
	env := validProductionConfig()
	for _, k := range []string{"HOST", "PORT", "PASSWORD", "TLS_ENABLED"} {
		delete(env, "LEADFLOW_REDIS_"+k)
	}
	env["LEADFLOW_REDIS_URL"] = redisURL
	return env
}

func TestRedisConfig_Address(t *testing.T) {
	t.Parallel()

	cfg := RedisConfig{Host: "cache.internal", Port: "6380"}
	assert.Equal(t, "cache.internal:6380", cfg.Address())
}
