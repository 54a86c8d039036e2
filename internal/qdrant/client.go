// Package qdrant provides a vector index client for Qdrant, used by the
// dedupe pipeline to find candidate duplicate pairs without comparing every
// record against every other.
package qdrant

import (
	"context"
	"fmt"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/helixir/screening-workflow-service/internal/config"
)

// Config holds the configuration for connecting to a Qdrant instance.
type Config struct {
	// Host is the Qdrant gRPC host.
	Host string
	// Port is the Qdrant gRPC port (e.g. 6334).
	Port int
	// APIKey is optional.
	APIKey string
	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool
	// CollectionPrefix is prepended to the review ID to name collections.
	CollectionPrefix string
	// VectorSize is the dimensionality of the stored vectors.
	VectorSize uint64
}

// FromAppConfig builds a Config from the service configuration.
func FromAppConfig(cfg config.QdrantConfig, vectorSize uint64) Config {
	return Config{
		Host:             cfg.Host,
		Port:             cfg.Port,
		APIKey:           cfg.APIKey,
		UseTLS:           cfg.UseTLS,
		CollectionPrefix: cfg.CollectionPrefix,
		VectorSize:       vectorSize,
	}
}

// Validate checks that all required Config fields are set.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("qdrant config: host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("qdrant config: port %d out of range", c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("qdrant config: vector size must be > 0")
	}
	return nil
}

// Point is a record's vector keyed by study ID.
type Point struct {
	ID     uint64
	Vector []float32
}

// SearchResult represents a single result from a vector similarity search.
type SearchResult struct {
	// ID is the study ID of the matched point.
	ID uint64
	// Score is the cosine similarity score (higher is more similar).
	Score float32
}

// VectorStore defines the vector operations used by the dedupe index.
type VectorStore interface {
	// ResetCollection drops the collection if present and creates it empty.
	ResetCollection(ctx context.Context, collection string) error
	// Upsert inserts or updates points in the collection.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search finds the topK most similar vectors.
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]SearchResult, error)
	// CollectionName returns the collection used for a review.
	CollectionName(reviewID int64) string
	// Close releases the underlying gRPC connection.
	Close() error
}

// Compile-time check that Client implements VectorStore.
var _ VectorStore = (*Client)(nil)

// upsertBatchSize bounds the points sent per Upsert request.
const upsertBatchSize = 256

// Client is a Qdrant vector store client that implements VectorStore via gRPC.
type Client struct {
	client     *pb.Client
	prefix     string
	vectorSize uint64
}

// NewClient creates a new Qdrant client. The SDK connects lazily.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	qdrantClient, err := pb.NewClient(&pb.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &Client{
		client:     qdrantClient,
		prefix:     cfg.CollectionPrefix,
		vectorSize: cfg.VectorSize,
	}, nil
}

// CollectionName returns the per-review collection name.
func (c *Client) CollectionName(reviewID int64) string {
	return c.prefix + strconv.FormatInt(reviewID, 10)
}

// ResetCollection drops and recreates the collection with cosine distance,
// so every dedupe run indexes exactly the records it clusters.
func (c *Client) ResetCollection(ctx context.Context, collection string) error {
	exists, err := c.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := c.client.DeleteCollection(ctx, collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", collection, err)
		}
	}

	err = c.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     c.vectorSize,
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", collection, err)
	}
	return nil
}

// Upsert writes points in batches and waits for each batch to be applied.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	wait := true
	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))

		batch := make([]*pb.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, &pb.PointStruct{
				Id:      pb.NewIDNum(p.ID),
				Vectors: pb.NewVectors(p.Vector...),
			})
		}

		if _, err := c.client.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         batch,
		}); err != nil {
			return fmt.Errorf("qdrant: failed to upsert %d points into %q: %w", len(batch), collection, err)
		}
	}
	return nil
}

// Search performs a nearest-neighbor vector search returning up to topK results
// ordered by cosine similarity (descending).
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]SearchResult, error) {
	scored, err := c.client.Query(ctx, &pb.QueryPoints{
		CollectionName: collection,
		Query:          pb.NewQueryDense(vector),
		Limit:          &topK,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(scored))
	for _, sp := range scored {
		if sp.Id == nil {
			continue
		}
		if _, ok := sp.Id.PointIdOptions.(*pb.PointId_Num); !ok {
			return nil, fmt.Errorf("qdrant: unexpected non-numeric point id %v in %q", sp.Id, collection)
		}
		results = append(results, SearchResult{
			ID:    sp.Id.GetNum(),
			Score: sp.Score,
		})
	}

	return results, nil
}

// Close releases the gRPC connection to Qdrant.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
