// Package config provides application configuration management from a YAML
// file and environment variables.
//
// # Overview
//
// Defaults are overlaid by the YAML file named in GATEHOUSE_CONFIG_FILE and
// then by GATEHOUSE_* environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_HEALTH_PORT="9090"
//
// Storage settings:
//
//	GATEHOUSE_DATABASE_DRIVER="postgres"  # postgres, sqlite3, memory
//	GATEHOUSE_DATABASE_URL="postgres://localhost/gatehouse?sslmode=disable"
//	GATEHOUSE_REDIS_URL="redis://localhost:6379/0"  # empty keeps lockout counters in process
//
// Authentication settings:
//
//	GATEHOUSE_LOCKOUT_THRESHOLD="5"
//	GATEHOUSE_LOCKOUT_WINDOW="15m"
//	GATEHOUSE_TOKEN_TTL="24h"
//	GATEHOUSE_TOKEN_SECRET="<at least 32 bytes>"
//	GATEHOUSE_TOKEN_KEY_FILE="/etc/gatehouse/signing.pem"
//
// SSO settings:
//
//	GATEHOUSE_SSO_METADATA_REFRESH="@every 30m"
//	GATEHOUSE_SSO_SECRETS_FILE="/etc/gatehouse/oidc-secrets.yaml"
//	GATEHOUSE_OIDC_SECRET_<ORG>="..."  # per-organization client secret
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_METRICS_ENABLED="true"
//	GATEHOUSE_OTEL_ENABLED="true"
//	GATEHOUSE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
