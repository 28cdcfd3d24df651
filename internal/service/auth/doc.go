// Package auth issues and validates the HS256 bearer tokens that guard the
// chat API when a signing secret is configured.
package auth
