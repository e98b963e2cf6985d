// Package recognizer runs the per-frame recognition pipeline: extract an
// embedding from the face crop, consult the match cache, and shape the
// result frame the client renders.
package recognizer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/faces"
	"github.com/fyrsmithlabs/recalld/internal/identity"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/matchcache"
	"github.com/fyrsmithlabs/recalld/internal/metrics"
)

// FaceData is the inbound face_data frame payload.
type FaceData struct {
	// TrackID correlates this face across frames; echoed back verbatim.
	TrackID string `json:"track_id"`

	// ImageBase64 is the cropped face image.
	ImageBase64 string `json:"image_base64"`

	// Bbox is the normalized bounding box; relayed for client use only.
	Bbox map[string]float64 `json:"bbox,omitempty"`

	// Timestamp allows client-side latency tracking.
	Timestamp float64 `json:"timestamp,omitempty"`
}

// Result is the outbound recognition_result payload.
type Result struct {
	TrackID      string           `json:"track_id"`
	IsKnown      bool             `json:"is_known"`
	Confidence   float32          `json:"confidence"`
	Person       *identity.Person `json:"person"`
	DisplayLines []string         `json:"display_lines"`
}

// Service is the recognition pipeline.
type Service struct {
	provider faces.Provider
	cache    *matchcache.Cache
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewService creates the recognition pipeline.
func NewService(provider faces.Provider, cache *matchcache.Cache, logger *logging.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		provider: provider,
		cache:    cache,
		logger:   logger.Named("recognizer"),
		metrics:  m,
	}
}

// Recognize processes one face_data payload. An empty image is a silent
// drop: the bool return is false and no result frame should be sent. Any
// extraction failure short-circuits to an "unknown" result without ever
// consulting the matcher.
func (s *Service) Recognize(ctx context.Context, fd FaceData) (*Result, bool) {
	if fd.ImageBase64 == "" {
		s.count("dropped")
		return nil, false
	}

	start := time.Now()

	embedding, err := s.provider.Extract(ctx, fd.ImageBase64)
	if err != nil {
		if !errors.Is(err, faces.ErrNoFace) {
			s.logger.Warn(ctx, "embedding extraction failed",
				zap.String("track_id", fd.TrackID),
				zap.Error(err),
			)
		}
		s.count("no_face")
		return s.result(fd.TrackID, nil, 0), true
	}

	person, score := s.cache.Match(embedding)
	if s.metrics != nil {
		s.metrics.MatchDuration.Observe(time.Since(start).Seconds())
	}

	if person != nil {
		s.count("matched")
	} else {
		s.count("unmatched")
	}
	return s.result(fd.TrackID, person, score), true
}

func (s *Service) result(trackID string, person *identity.Person, score float32) *Result {
	return &Result{
		TrackID:      trackID,
		IsKnown:      person != nil,
		Confidence:   score,
		Person:       person,
		DisplayLines: DisplayLines(person),
	}
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.RecognitionFrames.WithLabelValues(outcome).Inc()
	}
}
