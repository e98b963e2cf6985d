// Package people orchestrates the three identity tiers: the authoritative
// remote store, the durable local mirror, and the in-process match cache.
//
// Every mutation commits to the mirror first, then updates the cache, then
// writes through to the remote tier asynchronously and best-effort. The
// local tiers are the real-time truth; the remote tier is eventually
// consistent with them, reconciled on the next startup sync.
package people

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/faces"
	"github.com/fyrsmithlabs/recalld/internal/hub"
	"github.com/fyrsmithlabs/recalld/internal/identity"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/matchcache"
	"github.com/fyrsmithlabs/recalld/internal/metrics"
)

// remoteWriteTimeout bounds one async write-through attempt. The serving
// path never waits on it.
const remoteWriteTimeout = 30 * time.Second

// Mirror is the durable local store the service commits to first.
type Mirror interface {
	Insert(ctx context.Context, p identity.Person, embedding []float32) error
	Get(ctx context.Context, id string) (identity.Person, error)
	List(ctx context.Context) ([]identity.Person, error)
	ListWithEmbeddings(ctx context.Context) ([]identity.Entry, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	Delete(ctx context.Context, id string) error
	ReplaceAll(ctx context.Context, entries []identity.Entry) error
	Count(ctx context.Context) (int, error)
}

// Remote is the authoritative cross-process store, written through
// best-effort after every local commit.
type Remote interface {
	FetchAll(ctx context.Context) ([]identity.Entry, error)
	UpsertPerson(ctx context.Context, p identity.Person) error
	UpsertEmbedding(ctx context.Context, p identity.Person, embedding []float32) error
	DeletePerson(ctx context.Context, id string) error
}

// Broadcaster pushes state-change frames to every live session.
type Broadcaster interface {
	Broadcast(ctx context.Context, frame hub.Frame)
}

// Options configures the service. Remote may be nil for local-only mode.
type Options struct {
	Mirror      Mirror
	Remote      Remote
	Cache       *matchcache.Cache
	Faces       faces.Provider
	Broadcaster Broadcaster
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
}

// Service is the identity CRUD and synchronization core.
type Service struct {
	mirror      Mirror
	remote      Remote
	cache       *matchcache.Cache
	faces       faces.Provider
	broadcaster Broadcaster
	logger      *logging.Logger
	metrics     *metrics.Metrics

	// wg tracks in-flight async remote writes so shutdown can drain them.
	wg sync.WaitGroup
}

// NewService creates the identity service.
func NewService(opts Options) (*Service, error) {
	if opts.Mirror == nil {
		return nil, fmt.Errorf("mirror is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		mirror:      opts.Mirror,
		remote:      opts.Remote,
		cache:       opts.Cache,
		faces:       opts.Faces,
		broadcaster: opts.Broadcaster,
		logger:      logger.Named("people"),
		metrics:     opts.Metrics,
	}, nil
}

// SyncOnStart establishes the converged startup view.
//
// When the remote tier is reachable and returns a non-empty embedding set,
// that set is authoritative: the mirror is overwritten wholesale and stale
// local-only rows are discarded. Otherwise the mirror's existing contents
// stand for this session. Either way the cache then loads from the mirror.
func (s *Service) SyncOnStart(ctx context.Context) error {
	if s.remote != nil {
		entries, err := s.remote.FetchAll(ctx)
		switch {
		case err != nil:
			// Unreachable remote degrades to local-only, never fails startup.
			s.logger.Warn(ctx, "remote fetch failed, using local mirror",
				zap.Error(err),
			)
		case len(entries) == 0:
			s.logger.Info(ctx, "remote store empty, using local mirror")
		default:
			if err := s.mirror.ReplaceAll(ctx, entries); err != nil {
				return fmt.Errorf("overwrite mirror from remote: %w", err)
			}
			s.logger.Info(ctx, "mirror replaced from remote store",
				zap.Int("people", len(entries)),
			)
		}
	}

	n, err := s.RefreshCache(ctx)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "identity cache loaded", zap.Int("entries", n))
	return nil
}

// RefreshCache discards the cache and reloads it entirely from the mirror.
// This is the recovery path when the cache is suspected to have drifted.
func (s *Service) RefreshCache(ctx context.Context) (int, error) {
	entries, err := s.mirror.ListWithEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cache from mirror: %w", err)
	}
	s.cache.Load(entries)
	return s.cache.Len(), nil
}

// Create inserts a new person. The id is assigned here and never reused.
// The new person has no embedding yet and therefore does not enter the
// cache; registration is a separate step.
func (s *Service) Create(ctx context.Context, in identity.PersonCreate) (identity.Person, error) {
	p := identity.Person{
		ID:       newPersonID(),
		Name:     in.Name,
		Relation: in.Relation,
		LastMet:  in.LastMet,
		Context:  in.Context,
	}

	if err := s.mirror.Insert(ctx, p, nil); err != nil {
		return identity.Person{}, err
	}

	s.broadcast(ctx, hub.SyncUpdate(identity.EventPersonCreated, p))
	s.writeRemote(ctx, "upsert_person", func(ctx context.Context) error {
		return s.remote.UpsertPerson(ctx, p)
	})

	s.logger.Info(ctx, "person created",
		zap.String("person_id", p.ID),
		zap.String("name", p.Name),
	)
	return p, nil
}

// Get returns one person from the mirror.
func (s *Service) Get(ctx context.Context, id string) (identity.Person, error) {
	return s.mirror.Get(ctx, id)
}

// List returns all people from the mirror, without embeddings.
func (s *Service) List(ctx context.Context) ([]identity.Person, error) {
	return s.mirror.List(ctx)
}

// RegisterFace extracts an embedding from the image and attaches it to an
// existing person, replacing any prior embedding. On success the cache is
// updated in place and every session is notified.
func (s *Service) RegisterFace(ctx context.Context, id, imageBase64 string) (identity.Person, error) {
	p, err := s.mirror.Get(ctx, id)
	if err != nil {
		return identity.Person{}, err
	}

	if s.faces == nil {
		return identity.Person{}, faces.ErrUnavailable
	}
	embedding, err := s.faces.Extract(ctx, imageBase64)
	if err != nil {
		return identity.Person{}, err
	}

	if err := s.mirror.UpdateEmbedding(ctx, id, embedding); err != nil {
		return identity.Person{}, err
	}
	s.cache.Upsert(p, embedding)

	s.broadcast(ctx, hub.SyncUpdate(identity.EventEmbeddingRegistered, map[string]string{"id": id}))
	s.broadcast(ctx, hub.PersonRegistered(p))
	s.writeRemote(ctx, "upsert_embedding", func(ctx context.Context) error {
		return s.remote.UpsertEmbedding(ctx, p, embedding)
	})

	s.logger.Info(ctx, "face registered",
		zap.String("person_id", id),
		zap.Int("dimensions", len(embedding)),
	)
	return p, nil
}

// Delete removes a person from every tier. Returns identity.ErrNotFound to
// the caller when the id is unknown; no side effects occur in that case.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.mirror.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Evict(id)

	s.broadcast(ctx, hub.SyncUpdate(identity.EventPersonDeleted, map[string]string{"id": id}))
	s.writeRemote(ctx, "delete", func(ctx context.Context) error {
		return s.remote.DeletePerson(ctx, id)
	})

	s.logger.Info(ctx, "person deleted", zap.String("person_id", id))
	return nil
}

// Count returns the number of people in the mirror.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.mirror.Count(ctx)
}

// CacheLen returns the number of matchable cached identities.
func (s *Service) CacheLen() int {
	return s.cache.Len()
}

// Wait drains in-flight async remote writes. Called on shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

// broadcast fans a frame out when a broadcaster is wired.
func (s *Service) broadcast(ctx context.Context, frame hub.Frame) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ctx, frame)
	}
}

// writeRemote fires one best-effort write-through after a local commit.
// Failures are observed on a dedicated path (log + counter), never rolled
// back and never surfaced: the local tiers already hold the truth.
func (s *Service) writeRemote(ctx context.Context, operation string, write func(ctx context.Context) error) {
	if s.remote == nil {
		return
	}

	// Detach from the caller's context: the write must survive the
	// request that triggered it.
	fields := logging.ContextFields(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		wctx, cancel := context.WithTimeout(context.Background(), remoteWriteTimeout)
		defer cancel()

		if err := write(wctx); err != nil {
			if s.metrics != nil {
				s.metrics.RemoteWriteFailures.WithLabelValues(operation).Inc()
			}
			s.logger.Warn(wctx, "remote write-through failed",
				append(fields,
					zap.String("operation", operation),
					zap.Error(err),
				)...,
			)
		}
	}()
}

// newPersonID mints a person id: a "person_" prefix and eight hex chars
// from a fresh UUID.
func newPersonID() string {
	return "person_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// IsNotFound reports whether err is a not-found rejection.
func IsNotFound(err error) bool {
	return errors.Is(err, identity.ErrNotFound)
}
