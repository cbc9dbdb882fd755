package corterix

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStream_YieldsChunksThenFinishes(t *testing.T) {
	g := newTestGateway(t)
	registerMockModel(t, g, "mock-a")

	handle, err := g.Stream(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	defer handle.Close()

	var (
		chunks   []string
		finished bool
	)
	for {
		c, err := handle.Recv()
		require.NoError(t, err)
		if c.Finished {
			finished = true
			break
		}
		chunks = append(chunks, c.Text)
	}

	require.True(t, finished)
	require.NotEmpty(t, chunks)
}

func TestStream_ReleasesTenantConcurrencyOnClose(t *testing.T) {
	g := newTestGateway(t)
	registerMockModel(t, g, "mock-a")

	const tenantID = "tenant-stream"
	createTestTenant(t, g, tenantID)

	handle, err := g.Stream(context.Background(), Request{
		Prompt:  "hello",
		Context: RequestContext{TenantID: tenantID},
	})
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	// A second stream for the same tenant must not be rejected by a
	// concurrency slot the first stream failed to release on Close.
	handle2, err := g.Stream(context.Background(), Request{
		Prompt:  "hello again",
		Context: RequestContext{TenantID: tenantID},
	})
	require.NoError(t, err)
	defer handle2.Close()

	for {
		c, err := handle2.Recv()
		require.NoError(t, err)
		if c.Finished {
			break
		}
	}
}

func TestStream_NoCandidates_ReturnsError(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.Stream(context.Background(), Request{Prompt: "hello"})
	require.Error(t, err)
}
