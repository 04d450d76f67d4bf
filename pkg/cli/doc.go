// Package cli provides the gatehouse command-line interface.
//
// # Commands
//
// serve: Run the authentication API and the health/metrics listener
//
//	gatehouse serve
//	gatehouse serve --dev   # in-memory stores, throwaway signing secret
//
// migrate: Apply pending SQL migrations
//
//	GATEHOUSE_DATABASE_DRIVER=postgres GATEHOUSE_DATABASE_URL=... gatehouse migrate
//
// seed: Create organizations, SSO configurations, users and memberships
//
//	gatehouse seed ./seed.yaml
//
// hash-password: Print an Argon2id hash for users.password_hash
//
//	echo 'Sup3rSecret' | gatehouse hash-password
//
// Configuration is read from the file named by GATEHOUSE_CONFIG_FILE and
// then from GATEHOUSE_* environment variables; see package config.
package cli
