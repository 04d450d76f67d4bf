// Package rediscache holds the shared Redis client constructor and the
// read-through SSO configuration cache.
package rediscache
