// Package memory provides thread-safe in-memory stores for users,
// memberships, SSO configurations and seats. They back `gatehouse serve
// --dev` and the flow tests.
package memory
