package core

import (
	"context"

	"golang.org/x/oauth2/google"
)

// cloudPlatformScope is the platform-wide permission the reasoning engine
// API requires.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenProvider obtains a short-lived bearer credential for the upstream
// API. The gateway calls it fresh for every upstream request; tokens are
// short-lived and the underlying credential source performs its own
// refresh, so no caching layer sits in front of it.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// DefaultTokenProvider resolves Application Default Credentials from the
// environment (service account key, workload identity, gcloud login).
type DefaultTokenProvider struct{}

// AccessToken returns a bearer token scoped to the cloud platform. Failure
// means the credential source is unreachable or misconfigured and is
// reported as an AuthError.
func (DefaultTokenProvider) AccessToken(ctx context.Context) (string, error) {
	source, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
	if err != nil {
		return "", &AuthError{Err: err}
	}

	token, err := source.Token()
	if err != nil {
		return "", &AuthError{Err: err}
	}
	return token.AccessToken, nil
}
