// Package provisioning reconciles an authenticated SSO identity with the
// local user and organization membership records, creating them just in
// time when the organization allows it.
package provisioning
