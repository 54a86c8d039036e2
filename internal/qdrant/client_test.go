package qdrant

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/screening-workflow-service/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid config",
			cfg:  Config{Host: "localhost", Port: 6334, VectorSize: 256},
		},
		{
			name:    "empty host",
			cfg:     Config{Port: 6334, VectorSize: 256},
			wantErr: "host is required",
		},
		{
			name:    "port out of range",
			cfg:     Config{Host: "localhost", Port: 70000, VectorSize: 256},
			wantErr: "out of range",
		},
		{
			name:    "zero vector size",
			cfg:     Config{Host: "localhost", Port: 6334},
			wantErr: "vector size must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	t.Parallel()

	cfg := FromAppConfig(config.QdrantConfig{
		Host:             "qdrant",
		Port:             6334,
		APIKey:           "secret",
		UseTLS:           true,
		CollectionPrefix: "dedupe_review_",
	}, 128)

	assert.Equal(t, Config{
		Host: "qdrant", Port: 6334, APIKey: "secret", UseTLS: true,
		CollectionPrefix: "dedupe_review_", VectorSize: 128,
	}, cfg)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Port: 6334, VectorSize: 8})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host is required")
}

func TestClient_CollectionName(t *testing.T) {
	t.Parallel()

	c := &Client{prefix: "dedupe_review_"}
	assert.Equal(t, "dedupe_review_42", c.CollectionName(42))
}

func TestClient_Close_NilClient(t *testing.T) {
	t.Parallel()

	c := &Client{}
	assert.NoError(t, c.Close())
}

// Integration tests (require running Qdrant)

func TestClient_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	client := setupTestQdrantClient(t)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	collection := client.CollectionName(time.Now().UnixNano())
	require.NoError(t, client.ResetCollection(ctx, collection))

	t.Run("ResetCollection is idempotent", func(t *testing.T) {
		require.NoError(t, client.ResetCollection(ctx, collection))
	})

	t.Run("Upsert and Search", func(t *testing.T) {
		points := []Point{
			{ID: 1, Vector: []float32{1, 0, 0, 0}},
			{ID: 2, Vector: []float32{0.9, 0.1, 0, 0}},
			{ID: 3, Vector: []float32{0, 0, 1, 0}},
		}
		require.NoError(t, client.Upsert(ctx, collection, points))

		results, err := client.Search(ctx, collection, []float32{1, 0, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, uint64(1), results[0].ID)
		assert.Equal(t, uint64(2), results[1].ID)
		assert.Greater(t, results[0].Score, results[1].Score)
	})
}

// setupTestQdrantClient creates a test client or skips when Qdrant is not reachable.
func setupTestQdrantClient(t *testing.T) *Client {
	t.Helper()

	port := 6336
	if p, err := strconv.Atoi(os.Getenv("QDRANT_TEST_PORT")); err == nil {
		port = p
	}

	client, err := NewClient(Config{Host: "localhost", Port: port, CollectionPrefix: "test_", VectorSize: 4})
	if err != nil {
		t.Skipf("Skipping integration test: cannot create Qdrant client: %v", err)
	}

	// The SDK connects lazily, so probe the server to verify reachability.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.ResetCollection(ctx, "test_probe"); err != nil {
		_ = client.Close()
		t.Skipf("Skipping integration test: Qdrant not reachable on port %d: %v", port, err)
	}
	return client
}
