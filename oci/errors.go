package oci

import "errors"

// Sentinel errors for OCI fetches. Every error returned by Fetcher.Fetch,
// other than context errors, also wraps fetch.ErrNetwork.
var (
	// ErrInvalidReference is returned when a URL is not a valid OCI reference.
	ErrInvalidReference = errors.New("oci: invalid reference")

	// ErrNotFound is returned when the reference or a blob does not exist.
	ErrNotFound = errors.New("oci: not found")

	// ErrUnauthorized is returned when authentication fails.
	ErrUnauthorized = errors.New("oci: unauthorized")

	// ErrManifestInvalid is returned when a manifest cannot be parsed or has
	// an unsupported media type.
	ErrManifestInvalid = errors.New("oci: invalid manifest")

	// ErrNoImageLayer is returned when the manifest has no layer with an
	// accepted image media type.
	ErrNoImageLayer = errors.New("oci: no image layer")
)
