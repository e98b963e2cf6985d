// Package remote implements the authoritative remote identity store on top
// of Qdrant.
//
// The remote tier is the cross-process source of truth when reachable, but
// it is strictly best-effort from the serving path's point of view: it is
// fetched once at startup and written through after every local commit.
// Write failures degrade the daemon to local-only persistence; they are
// logged, never surfaced to callers.
//
// Each person is one point. The point id is a UUID derived from the person
// id (Qdrant does not accept arbitrary string ids); the real id travels in
// the payload alongside the profile fields and a has_embedding flag. People
// without a registered face carry a zero vector and has_embedding=false, so
// FetchAll, which filters on the flag, returns exactly the matchable set.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/recalld/internal/identity"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// pointNamespace seeds the person-id to point-id UUID derivation.
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Config configures the Qdrant-backed remote store.
type Config struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334, not the 6333 REST port).
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey is the optional API key. Leave empty for local development.
	APIKey string

	// Collection holds the identity points.
	Collection string

	// VectorSize is the embedding dimension for the collection.
	VectorSize int

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// RequestTimeout bounds individual requests.
	RequestTimeout time.Duration

	// RetryAttempts is the retry budget for transient failures.
	RetryAttempts int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "people"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 512
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("invalid vector size: %d (must be > 0)", c.VectorSize)
	}
	return nil
}

// Store is the Qdrant-backed remote identity store.
type Store struct {
	client *qdrant.Client
	config *Config
	logger *logging.Logger
}

// New connects to Qdrant, verifies health, and ensures the identity
// collection exists.
func New(config *Config, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	qdrantConfig := &qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
	}
	if !config.UseTLS {
		qdrantConfig.GrpcOptions = append(qdrantConfig.GrpcOptions,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
	}

	client, err := qdrant.NewClient(qdrantConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &Store{
		client: client,
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	logger.Info(ctx, "connecting to remote store",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
	)

	if err := s.Health(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	logger.Info(ctx, "remote store connection established",
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
	)

	return s, nil
}

// Health performs a health check on the Qdrant connection.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// ensureCollection creates the identity collection if it does not exist.
func (s *Store) ensureCollection(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err == nil && info != nil {
		return nil
	}
	if err != nil {
		st, ok := status.FromError(err)
		if !ok || st.Code() != codes.NotFound {
			return err
		}
	}

	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

// FetchAll returns every person that currently carries an embedding. This
// is the startup-sync read: when the result set is non-empty it is treated
// as authoritative and replaces the local mirror wholesale.
func (s *Store) FetchAll(ctx context.Context) ([]identity.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var points []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, func() error {
		result, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.config.Collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{
					qdrant.NewMatchBool("has_embedding", true),
				},
			},
			Limit:       qdrant.PtrOf(uint32(10000)),
			WithPayload: qdrant.NewWithPayload(true),
			WithVectors: qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch all: %w", err)
	}

	entries := make([]identity.Entry, 0, len(points))
	for _, p := range points {
		e := entryFromPoint(p)
		if e.Person.ID == "" || len(e.Embedding) == 0 {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpsertPerson writes the profile fields for a person with no registered
// face. The vector is a zero placeholder and has_embedding is false, which
// keeps the point out of FetchAll until an embedding lands.
func (s *Store) UpsertPerson(ctx context.Context, p identity.Person) error {
	return s.upsert(ctx, p, make([]float32, s.config.VectorSize), false)
}

// UpsertEmbedding overwrites a person's point with their current embedding
// and has_embedding=true.
func (s *Store) UpsertEmbedding(ctx context.Context, p identity.Person, embedding []float32) error {
	return s.upsert(ctx, p, embedding, true)
}

func (s *Store) upsert(ctx context.Context, p identity.Person, vector []float32, hasEmbedding bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	point := &qdrant.PointStruct{
		Id:      pointID(p.ID),
		Vectors: qdrant.NewVectors(vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			"id":            p.ID,
			"name":          p.Name,
			"relation":      p.Relation,
			"last_met":      p.LastMet,
			"context":       p.Context,
			"has_embedding": hasEmbedding,
		}),
	}

	return s.retryOperation(ctx, func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         []*qdrant.PointStruct{point},
		})
		return err
	})
}

// DeletePerson removes a person's point.
func (s *Store) DeletePerson(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	return s.retryOperation(ctx, func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{
						Ids: []*qdrant.PointId{pointID(id)},
					},
				},
			},
		})
		return err
	})
}

// Close closes the client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC failures.
func (s *Store) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := time.Second

	for attempt := 0; attempt <= s.config.RetryAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransientError(err) {
			return err
		}
		if attempt == s.config.RetryAttempts {
			break
		}

		s.logger.Debug(ctx, "retrying remote operation after transient error",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.config.RetryAttempts),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", s.config.RetryAttempts, lastErr)
}

// isTransientError checks if a gRPC error should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// pointID derives the deterministic Qdrant point id for a person id.
func pointID(personID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(personID)).String())
}

// entryFromPoint converts a retrieved point back to an identity entry.
func entryFromPoint(p *qdrant.RetrievedPoint) identity.Entry {
	var e identity.Entry

	payload := p.GetPayload()
	if payload == nil {
		return e
	}
	e.Person = identity.Person{
		ID:       payload["id"].GetStringValue(),
		Name:     payload["name"].GetStringValue(),
		Relation: payload["relation"].GetStringValue(),
		LastMet:  payload["last_met"].GetStringValue(),
		Context:  payload["context"].GetStringValue(),
	}

	if vectors := p.GetVectors(); vectors != nil {
		if vec := vectors.GetVector(); vec != nil {
			if dense := vec.GetDense(); dense != nil {
				e.Embedding = dense.GetData()
			}
		}
	}
	return e
}
