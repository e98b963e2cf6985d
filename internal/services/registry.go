// Package services wires the recalld service instances together for the
// transport layer. The registry is built once by the composition root and
// passed by reference; there is no global state.
package services

import (
	"github.com/fyrsmithlabs/recalld/internal/extraction"
	"github.com/fyrsmithlabs/recalld/internal/hub"
	"github.com/fyrsmithlabs/recalld/internal/people"
	"github.com/fyrsmithlabs/recalld/internal/recognizer"
	"github.com/fyrsmithlabs/recalld/internal/transcribe"
)

// Registry provides access to all recalld services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	People() *people.Service
	Recognizer() *recognizer.Service
	Hub() *hub.Hub
	Extraction() *extraction.Client
	Transcribe() *transcribe.Client
}

// Options configures the registry with service instances. Extraction and
// Transcribe may be nil when their endpoints are not configured.
type Options struct {
	People     *people.Service
	Recognizer *recognizer.Service
	Hub        *hub.Hub
	Extraction *extraction.Client
	Transcribe *transcribe.Client
}

// registry is the concrete implementation of Registry.
type registry struct {
	people     *people.Service
	recognizer *recognizer.Service
	hub        *hub.Hub
	extraction *extraction.Client
	transcribe *transcribe.Client
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		people:     opts.People,
		recognizer: opts.Recognizer,
		hub:        opts.Hub,
		extraction: opts.Extraction,
		transcribe: opts.Transcribe,
	}
}

func (r *registry) People() *people.Service         { return r.people }
func (r *registry) Recognizer() *recognizer.Service { return r.recognizer }
func (r *registry) Hub() *hub.Hub                   { return r.hub }
func (r *registry) Extraction() *extraction.Client  { return r.extraction }
func (r *registry) Transcribe() *transcribe.Client  { return r.transcribe }
