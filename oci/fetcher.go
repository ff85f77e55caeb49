// Package oci provides a Fetcher that loads images stored as OCI artifacts.
//
// URLs have the form oci://<registry>/<repository>:<tag> or
// oci://<registry>/<repository>@<digest>. The reference is resolved to an
// image manifest and the first layer with an accepted image media type is
// downloaded and verified against its digest.
package oci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/meigma/animgif/fetch"
)

// Scheme is the URL scheme handled by Fetcher.
const Scheme = "oci"

const (
	defaultUserAgent = "animgif/1.0"
	defaultTag       = "latest"

	// maxManifestSize bounds manifest reads.
	maxManifestSize = 4 << 20
)

// DefaultMediaTypes are the layer media types accepted by default.
var DefaultMediaTypes = []string{"image/gif", "image/*"}

// Target is the read side of an OCI repository.
// *remote.Repository and *memory.Store satisfy it.
type Target interface {
	content.Resolver
	content.Fetcher
}

// Fetcher downloads image layers from OCI registries. It satisfies
// fetch.Fetcher.
type Fetcher struct {
	plainHTTP  bool
	userAgent  string
	credential auth.CredentialFunc
	mediaTypes []string
	targetFunc func(ref registry.Reference) (Target, error)
	logger     *slog.Logger

	authClient *auth.Client // shared auth client with token cache
}

// Interface compliance.
var _ fetch.Fetcher = (*Fetcher)(nil)

// New creates a Fetcher with the given options.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		userAgent:  defaultUserAgent,
		mediaTypes: DefaultMediaTypes,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(f)
	}

	f.authClient = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if f.credential == nil {
				return auth.EmptyCredential, nil
			}
			return f.credential(ctx, hostport)
		},
		Header: http.Header{
			"User-Agent": []string{f.userAgent},
		},
	}
	if f.targetFunc == nil {
		f.targetFunc = f.repository
	}
	return f
}

// log returns the logger, falling back to a discard logger if nil.
func (f *Fetcher) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// repository creates a Repository for the given reference.
// Uses the shared auth client to reuse tokens across requests.
func (f *Fetcher) repository(ref registry.Reference) (Target, error) {
	repo, err := remote.NewRepository(ref.Registry + "/" + ref.Repository)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	repo.PlainHTTP = f.plainHTTP
	repo.Client = f.authClient
	return repo, nil
}

// ParseURL parses an oci:// URL into a registry reference. A missing tag
// defaults to "latest".
func ParseURL(rawURL string) (registry.Reference, error) {
	rest, ok := strings.CutPrefix(rawURL, Scheme+"://")
	if !ok {
		return registry.Reference{}, fmt.Errorf("%w: %q: missing %s:// prefix", ErrInvalidReference, rawURL, Scheme)
	}
	ref, err := registry.ParseReference(rest)
	if err != nil {
		return registry.Reference{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if ref.Reference == "" {
		ref.Reference = defaultTag
	}
	return ref, nil
}

// Fetch implements fetch.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := f.fetch(ctx, rawURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", fetch.ErrNetwork, err)
	}
	return data, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	target, err := f.targetFunc(ref)
	if err != nil {
		return nil, err
	}

	desc, err := target.Resolve(ctx, ref.Reference)
	if err != nil {
		return nil, mapError(err)
	}

	manifest, err := f.fetchManifest(ctx, target, desc)
	if err != nil {
		return nil, err
	}

	layer, ok := selectLayer(manifest.Layers, f.mediaTypes)
	if !ok {
		return nil, fmt.Errorf("%w: %s accepts %v", ErrNoImageLayer, ref, f.mediaTypes)
	}

	data, err := content.FetchAll(ctx, target, layer)
	if err != nil {
		return nil, mapError(err)
	}

	f.log().Debug("fetched oci layer",
		slog.String("url", rawURL),
		slog.String("digest", layer.Digest.String()),
		slog.String("media_type", layer.MediaType),
		slog.Int64("size", layer.Size))
	return data, nil
}

// fetchManifest fetches and parses the image manifest described by desc.
func (f *Fetcher) fetchManifest(ctx context.Context, target Target, desc ocispec.Descriptor) (ocispec.Manifest, error) {
	if desc.MediaType != "" && desc.MediaType != ocispec.MediaTypeImageManifest {
		return ocispec.Manifest{}, fmt.Errorf("%w: unsupported media type %s", ErrManifestInvalid, desc.MediaType)
	}
	if desc.Size > maxManifestSize {
		return ocispec.Manifest{}, fmt.Errorf("%w: manifest size %d exceeds limit", ErrManifestInvalid, desc.Size)
	}

	raw, err := content.FetchAll(ctx, target, desc)
	if err != nil {
		return ocispec.Manifest{}, mapError(err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return ocispec.Manifest{}, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	return manifest, nil
}

// selectLayer returns the first layer matching the earliest accepted media
// type.
func selectLayer(layers []ocispec.Descriptor, accepted []string) (ocispec.Descriptor, bool) {
	for _, pattern := range accepted {
		for _, layer := range layers {
			if matchMediaType(pattern, layer.MediaType) {
				return layer, true
			}
		}
	}
	return ocispec.Descriptor{}, false
}

func matchMediaType(pattern, mediaType string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(mediaType, prefix)
	}
	return mediaType == pattern
}

// mapError maps ORAS errors to our sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errdef.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var errResp *errcode.ErrorResponse
	if errors.As(err, &errResp) {
		switch errResp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	return err
}
