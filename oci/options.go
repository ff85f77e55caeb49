package oci

import (
	"log/slog"

	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithPlainHTTP enables plain HTTP (no TLS) for registries.
// This is useful for local development registries.
func WithPlainHTTP(enabled bool) Option {
	return func(f *Fetcher) {
		f.plainHTTP = enabled
	}
}

// WithCredentials sets the credential store used for authentication.
func WithCredentials(store credentials.Store) Option {
	return func(f *Fetcher) {
		if store == nil {
			f.credential = nil
			return
		}
		f.credential = credentials.Credential(store)
	}
}

// WithStaticCredentials sets username/password credentials for one registry.
func WithStaticCredentials(registry, username, password string) Option {
	return func(f *Fetcher) {
		f.credential = auth.StaticCredential(registry, auth.Credential{
			Username: username,
			Password: password,
		})
	}
}

// WithDockerConfig reads credentials from ~/.docker/config.json and its
// credential helpers. If the config cannot be loaded the fetcher stays
// anonymous.
func WithDockerConfig() Option {
	return func(f *Fetcher) {
		store, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
		if err != nil {
			return
		}
		f.credential = credentials.Credential(store)
	}
}

// WithUserAgent sets the User-Agent header for registry requests.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMediaTypes sets the accepted layer media types in order of preference.
// An entry ending in "/*" matches any subtype.
func WithMediaTypes(types ...string) Option {
	return func(f *Fetcher) {
		if len(types) == 0 {
			return
		}
		f.mediaTypes = append([]string(nil), types...)
	}
}

// WithTargetFunc replaces how a reference is turned into a Target.
// Tests use it to serve content from an in-memory store.
func WithTargetFunc(fn func(ref registry.Reference) (Target, error)) Option {
	return func(f *Fetcher) {
		f.targetFunc = fn
	}
}

// WithLogger sets the logger for fetch diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}
