package config

import (
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalRequiredConfig provides database and Redis config needed for all tests
func minimalRequiredConfig() map[string]string {
	return map[string]string{
		"LEADFLOW_DB_HOST":        "localhost",
		"LEADFLOW_DB_PORT":        "5432",
		"LEADFLOW_DB_NAME":        "leadflow_test",
		"LEADFLOW_DB_USER":        "test_user",
		"LEADFLOW_DB_PASSWORD":    "test_pass",
		"LEADFLOW_REDIS_HOST":     "localhost",
		"LEADFLOW_REDIS_PORT":     "6379",
		"LEADFLOW_REDIS_PASSWORD": "redis_password_123",
	}
}

// mergeEnvVars merges additional env vars with minimal required config
func mergeEnvVars(additional map[string]string) map[string]string {
	result := minimalRequiredConfig()
	maps.Copy(result, additional)
	return result
}

// validProductionConfig returns a complete valid production configuration
func validProductionConfig() map[string]string {
	return map[string]string{
		"LEADFLOW_APP_ENV": "production",

		"LEADFLOW_DB_HOST":     "prod-db.example.com",
		"LEADFLOW_DB_PORT":     "5432",
		"LEADFLOW_DB_NAME":     "leadflow_prod",
		"LEADFLOW_DB_USER":     "prod_user",
		"LEADFLOW_DB_PASSWORD": "SuperSecure123!",
		"LEADFLOW_DB_SSL_MODE": "require",

		"LEADFLOW_REDIS_HOST":        "prod-redis.example.com",
		"LEADFLOW_REDIS_PORT":        "6379",
		"LEADFLOW_REDIS_PASSWORD":    "RedisSecure123!",
		"LEADFLOW_REDIS_TLS_ENABLED": "true",

		"LEADFLOW_SERVER_API_KEY_HASH":  "5dec7e1c36e8ec7f526cfa8ff6dc788daad76f6dd34467662eb47990dca6b55d",
		"LEADFLOW_SERVER_TLS_ENABLED":   "true",
		"LEADFLOW_SERVER_TLS_CERT_FILE": "/certs/api-cert.pem",
		"LEADFLOW_SERVER_TLS_KEY_FILE":  "/certs/api-key.pem",
	}
}

// runLoadCases executes table cases against Load with t.Setenv, so they cannot run in parallel.
func runLoadCases(t *testing.T, tests []loadCase) {
	t.Helper()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			if tt.want != nil {
				tt.want(t, cfg)
			}
		})
	}
}

type loadCase struct {
	name    string
	envVars map[string]string
	want    func(t *testing.T, cfg *Config)
	wantErr bool
}

func TestLoad(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should use defaults when no optional env vars are set",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "leadflow", cfg.App.Name)
				assert.Equal(t, "dev", cfg.App.Version)
				assert.Equal(t, "development", cfg.App.Environment)
				assert.Equal(t, "info", cfg.App.LogLevel)
				assert.Equal(t, "text", cfg.App.LogFormat)
				assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout)
				assert.Equal(t, "8080", cfg.Server.Port)
				assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
				assert.Equal(t, int64(1048576), cfg.Server.MaxBodyBytes)
				assert.Equal(t, "9090", cfg.Observability.Port)
			},
		},
		{
			name: "Should load all custom environment variables correctly",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_APP_NAME":             "test-app",
				"LEADFLOW_APP_VERSION":          "1.0.0",
				"LEADFLOW_APP_ENV":              "staging",
				"LEADFLOW_APP_LOG_LEVEL":        "debug",
				"LEADFLOW_APP_LOG_FORMAT":       "json",
				"LEADFLOW_APP_SHUTDOWN_TIMEOUT": "60s",
				"LEADFLOW_SERVER_PORT":          "8081",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "test-app", cfg.App.Name)
				assert.Equal(t, "1.0.0", cfg.App.Version)
				assert.Equal(t, "staging", cfg.App.Environment)
				assert.Equal(t, "debug", cfg.App.LogLevel)
				assert.Equal(t, "json", cfg.App.LogFormat)
				assert.Equal(t, 60*time.Second, cfg.App.ShutdownTimeout)
				assert.Equal(t, "8081", cfg.Server.Port)
			},
		},
		{
			name:    "Should fail validation on invalid environment value",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_APP_ENV": "invalid"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on invalid log level",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_APP_LOG_LEVEL": "trace"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on invalid log format",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_APP_LOG_FORMAT": "xml"}),
			wantErr: true,
		},
		{
			name: "Should allow missing passwords in non-production environments",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_APP_ENV":        "development",
				"LEADFLOW_DB_PASSWORD":    "",
				"LEADFLOW_REDIS_PASSWORD": "",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "", cfg.Database.Password)
				assert.Equal(t, "", cfg.Redis.Password)
			},
		},
		{
			name:    "Should pass a complete production configuration",
			envVars: validProductionConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "production", cfg.App.Environment)
				assert.True(t, cfg.Server.TLSEnabled)
			},
		},
	})
}

func TestServerConfig(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name: "Should require an API key hash in production",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				delete(cfg, "LEADFLOW_SERVER_API_KEY_HASH")
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "Should require TLS in production",
			envVars: func() map[string]string {
				cfg := validProductionConfig()
				cfg["LEADFLOW_SERVER_TLS_ENABLED"] = "false"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name:    "Should reject a malformed API key hash",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_SERVER_API_KEY_HASH": "not-hex"}),
			wantErr: true,
		},
		{
			name:    "Should reject TLS without certificate files",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_SERVER_TLS_ENABLED": "true"}),
			wantErr: true,
		},
		{
			name:    "Should reject an out of range port",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_SERVER_PORT": "70000"}),
			wantErr: true,
		},
	})
}

func TestCacheConfig(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should apply cache defaults",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 10000, cfg.Cache.RulesCapacity)
				assert.Equal(t, 5*time.Minute, cfg.Cache.RulesTTL)
				assert.Equal(t, 10*time.Minute, cfg.Cache.ResultsTTL)
				assert.Equal(t, "leadflow:rules:invalidate", cfg.Cache.InvalidationChannel)
			},
		},
		{
			name:    "Should reject a zero capacity",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_CACHE_RULES_CAPACITY": "0"}),
			wantErr: true,
		},
	})
}

func TestKafkaConfig(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should be disabled by default",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Kafka.Enabled)
				assert.Equal(t, "leadflow.assignments", cfg.Kafka.AssignmentsTopic)
				assert.Equal(t, "leadflow.promotions", cfg.Kafka.PromotionsTopic)
				assert.True(t, cfg.Kafka.Async)
			},
		},
		{
			name: "Should split brokers on commas",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_KAFKA_ENABLED": "true",
				"LEADFLOW_KAFKA_BROKERS": "kafka-1:9092,kafka-2:9092",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
			},
		},
		{
			name:    "Should require brokers when enabled",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_KAFKA_ENABLED": "true"}),
			wantErr: true,
		},
	})
}

func TestRecalcConfig(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should run every five minutes by default",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Recalc.Enabled)
				assert.Equal(t, "@every 5m", cfg.Recalc.Schedule)
				assert.Equal(t, 4, cfg.Recalc.Concurrency)
			},
		},
		{
			name:    "Should accept a standard cron spec",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_RECALC_SCHEDULE": "*/10 * * * *"}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "*/10 * * * *", cfg.Recalc.Schedule)
			},
		},
		{
			name:    "Should reject an unparsable schedule",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_RECALC_SCHEDULE": "every now and then"}),
			wantErr: true,
		},
		{
			name: "Should ignore the schedule when disabled",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_RECALC_ENABLED":  "false",
				"LEADFLOW_RECALC_SCHEDULE": "garbage",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.Recalc.Enabled)
			},
		},
	})
}

func TestWebhookAndTracingConfig(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should apply defaults",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, uint64(3), cfg.Webhook.MaxRetries)
				assert.Equal(t, 5*time.Second, cfg.Webhook.RequestTimeout)
				assert.False(t, cfg.Tracing.Enabled)
				assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
			},
		},
		{
			name:    "Should reject a sample ratio above one",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_TRACING_SAMPLE_RATIO": "1.5"}),
			wantErr: true,
		},
		{
			name:    "Should reject too many webhook retries",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_WEBHOOK_MAX_RETRIES": "50"}),
			wantErr: true,
		},
	})
}

func TestObservabilityConfig(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name: "Should load valid observability port and timeout",
			envVars: mergeEnvVars(map[string]string{
				"LEADFLOW_OBSERVABILITY_PORT":    "9091",
				"LEADFLOW_OBSERVABILITY_TIMEOUT": "1s",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "9091", cfg.Observability.Port)
				assert.Equal(t, time.Second, cfg.Observability.Timeout)
			},
		},
		{
			name:    "Should fail validation on port too high",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_OBSERVABILITY_PORT": "65536"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on timeout too short",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_OBSERVABILITY_TIMEOUT": "999ms"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation on relative probe path",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_OBSERVABILITY_READINESS_PATH": "readyz"}),
			wantErr: true,
		},
		{
			name:    "Should fail validation when probes share a path",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_OBSERVABILITY_METRICS_PATH": "/healthz"}),
			wantErr: true,
		},
		{
			name:    "Should listen on all interfaces at the configured port",
			envVars: mergeEnvVars(map[string]string{"LEADFLOW_OBSERVABILITY_PORT": "9100"}),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9100", cfg.Observability.Address())
			},
		},
	})
}
