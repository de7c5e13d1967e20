// Package qdrant implements vectorstore.Store on top of a Qdrant server.
//
// Chunk IDs map directly onto Qdrant numeric point IDs. Text and metadata
// are stored in the point payload under the "text" key and the metadata keys.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/sluice/core"
	"github.com/poiesic/sluice/vectorstore"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PayloadText is the payload key holding the chunk text.
const PayloadText = "text"

// Config describes how to reach the Qdrant server.
type Config struct {
	Host   string
	Port   int // gRPC port, 6334 by default
	APIKey string
	UseTLS bool
}

// Store is a vectorstore.Store backed by Qdrant.
type Store struct {
	client *qdrant.Client
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]struct{} // collections confirmed to exist
}

var _ vectorstore.Store = (*Store)(nil)

// NewStore connects to Qdrant.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Store{
		client: client,
		logger: slog.Default().With("component", "qdrant", "host", cfg.Host, "port", cfg.Port),
		known:  make(map[string]struct{}),
	}, nil
}

// GetOrCreateCollection implements vectorstore.Store.
func (s *Store) GetOrCreateCollection(ctx context.Context, name string, dimension int) error {
	if name == "" {
		return vectorstore.ErrInvalidCollectionName
	}
	s.mu.Lock()
	_, ok := s.known[name]
	s.mu.Unlock()
	if ok {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		if dimension <= 0 {
			return fmt.Errorf("%w: collection %s needs a positive dimension", vectorstore.ErrDimensionMismatch, name)
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		s.logger.Info("created collection", "collection", name, "dimension", dimension)
	}

	s.mu.Lock()
	s.known[name] = struct{}{}
	s.mu.Unlock()
	return nil
}

func pointIDs(ids []core.ID) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = qdrant.NewIDNum(uint64(id))
	}
	return out
}

// Exists implements vectorstore.Store.
func (s *Store) Exists(ctx context.Context, collection string, ids []core.ID) (map[core.ID]struct{}, error) {
	present := make(map[core.ID]struct{}, len(ids))
	if len(ids) == 0 {
		return present, nil
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs(ids),
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if status.Code(err) == codes.NotFound {
		return present, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get points from %s: %w", collection, err)
	}
	for _, p := range points {
		present[core.ID(p.GetId().GetNum())] = struct{}{}
	}
	return present, nil
}

// payload converts chunk text and metadata into a Qdrant payload.
func payload(c *core.Chunk) (map[string]*qdrant.Value, error) {
	fields := make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		fields[k] = v
	}
	fields[PayloadText] = c.Text
	values, err := qdrant.TryValueMap(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d payload: %w", core.ErrInvalidChunk, c.ID, err)
	}
	return values, nil
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, collection string, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		values, err := payload(c)
		if err != nil {
			return err
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(c.ID)),
			Vectors: qdrant.NewVectorsDense(c.Vector),
			Payload: values,
		}
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
	}
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(ctx context.Context, collection string, ids []core.ID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs(ids)...),
	})
	if err != nil {
		return fmt.Errorf("delete %d points from %s: %w", len(ids), collection, err)
	}
	return nil
}

// Count implements vectorstore.Store.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return int(n), nil
}

// Close closes the gRPC connections.
func (s *Store) Close() error {
	return s.client.Close()
}
