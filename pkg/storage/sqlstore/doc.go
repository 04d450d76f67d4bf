// Package sqlstore implements the user, membership, SSO configuration and
// seat stores on database/sql. The schema and queries run unchanged on
// PostgreSQL (lib/pq) and SQLite (go-sqlite3); placeholders are numbered
// and always appear in ascending order.
package sqlstore
