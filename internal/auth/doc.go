// Package auth issues and validates the HS256 access tokens that protect
// the control API.
//
// Tokens carry a subject and a Role. Viewers may read; operators may also
// spawn, kill, edit options and reset storage.
package auth
