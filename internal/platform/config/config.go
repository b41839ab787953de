package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  []string
	AuditTopic    string
	JWTSigningKey string
}

// OutboxPollInterval is how often the audit outbox publisher scans for
// unpublished rows.
var OutboxPollInterval = 2 * time.Second

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("PEOPLEOPS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	auditTopic := os.Getenv("PEOPLEOPS_AUDIT_TOPIC")
	if auditTopic == "" {
		auditTopic = "peopleops.audit"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("PEOPLEOPS_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("PEOPLEOPS_DATABASE_URL"),
		RedisURL:      os.Getenv("PEOPLEOPS_REDIS_URL"),
		KafkaBrokers:  brokers,
		AuditTopic:    auditTopic,
		JWTSigningKey: jwtSigningKey,
	}
}
