//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	oras "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote"

	"github.com/meigma/animgif/oci"
)

const artifactType = "application/vnd.animgif.image.v1"

// --- Registry Container Setup ---

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns the shared registry address, starting the container if needed.
// The container is shared across all tests.
func getRegistry(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	registryOnce.Do(func() {
		registryAddr, registryErr = startRegistryContainer(context.Background())
	})

	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}

	return registryAddr
}

// startRegistryContainer starts a registry:2 container and returns the host:port address.
func startRegistryContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start registry container: %w", err)
	}

	// Cleanup is handled by the testcontainers Reaper.

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve registry host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve registry port: %w", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Fetcher Factory ---

// newTestFetcher creates an OCI fetcher configured for the local test registry.
func newTestFetcher(opts ...oci.Option) *oci.Fetcher {
	return oci.New(append([]oci.Option{oci.WithPlainHTTP(true)}, opts...)...)
}

// --- Reference Helpers ---

// testURL returns the oci:// URL for a test repository and tag.
func testURL(addr, name, tag string) string {
	return fmt.Sprintf("oci://%s/test/%s:%s", addr, name, tag)
}

// pushLayers pushes layers, in order, as an image manifest tagged tag in
// the test repository name and returns the manifest descriptor.
func pushLayers(tb testing.TB, addr, name, tag string, layers ...layer) ocispec.Descriptor {
	tb.Helper()
	ctx := context.Background()

	repo, err := remote.NewRepository(fmt.Sprintf("%s/test/%s", addr, name))
	require.NoError(tb, err, "open repository")
	repo.PlainHTTP = true

	descs := make([]ocispec.Descriptor, 0, len(layers))
	for _, l := range layers {
		desc, err := oras.PushBytes(ctx, repo, l.mediaType, l.data)
		require.NoError(tb, err, "push %s layer", l.mediaType)
		descs = append(descs, desc)
	}

	manifest, err := oras.PackManifest(ctx, repo, oras.PackManifestVersion1_1, artifactType, oras.PackManifestOptions{
		Layers: descs,
	})
	require.NoError(tb, err, "pack manifest")
	require.NoError(tb, repo.Tag(ctx, manifest, tag), "tag manifest")
	return manifest
}

type layer struct {
	mediaType string
	data      []byte
}
