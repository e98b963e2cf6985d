package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/faces"
	"github.com/fyrsmithlabs/recalld/internal/identity"
)

// maxAudioBytes bounds POST /transcribe uploads.
const maxAudioBytes = 25 << 20 // 25MB

// RootResponse is the response body for GET /.
type RootResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	PeopleCount int    `json:"people_count"`
	CacheSize   int    `json:"cache_size"`
	Sessions    int    `json:"sessions"`
}

// RefreshResponse is the response body for POST /cache/refresh.
type RefreshResponse struct {
	Status    string `json:"status"`
	CacheSize int    `json:"cache_size"`
}

// ExtractRequest is the request body for POST /extract.
type ExtractRequest struct {
	Sentence string `json:"sentence"`
}

// TranscribeResponse is the response body for POST /transcribe.
type TranscribeResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, RootResponse{Status: "ok", Service: "recalld"})
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()

	count, err := s.registry.People().Count(ctx)
	if err != nil {
		s.logger.Error(ctx, "health check failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "mirror unavailable")
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		PeopleCount: count,
		CacheSize:   s.registry.People().CacheLen(),
		Sessions:    s.registry.Hub().Count(),
	})
}

func (s *Server) handleListPeople(c echo.Context) error {
	people, err := s.registry.People().List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list people")
	}
	if people == nil {
		people = []identity.Person{}
	}
	return c.JSON(http.StatusOK, people)
}

func (s *Server) handleGetPerson(c echo.Context) error {
	p, err := s.registry.People().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "person not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get person")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleCreatePerson(c echo.Context) error {
	var in identity.PersonCreate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name field is required")
	}

	p, err := s.registry.People().Create(c.Request().Context(), in)
	if err != nil {
		if errors.Is(err, identity.ErrAlreadyExists) {
			return echo.NewHTTPError(http.StatusConflict, "person already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create person")
	}
	return c.JSON(http.StatusOK, p)
}

// RegisterFaceRequest is the request body for POST /register-face/:id.
type RegisterFaceRequest struct {
	ImageBase64 string `json:"image_base64"`
}

func (s *Server) handleRegisterFace(c echo.Context) error {
	var in RegisterFaceRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.ImageBase64 == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "image_base64 field is required")
	}

	p, err := s.registry.People().RegisterFace(c.Request().Context(), c.Param("id"), in.ImageBase64)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "person not found")
		case errors.Is(err, faces.ErrNoFace):
			return echo.NewHTTPError(http.StatusBadRequest, "could not extract face embedding")
		case errors.Is(err, faces.ErrUnavailable):
			return echo.NewHTTPError(http.StatusBadGateway, "embedding service unavailable")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to register face")
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":    "success",
		"person_id": p.ID,
	})
}

func (s *Server) handleDeletePerson(c echo.Context) error {
	id := c.Param("id")
	if err := s.registry.People().Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "person not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete person")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "deleted",
		"person_id": id,
	})
}

func (s *Server) handleRefreshCache(c echo.Context) error {
	n, err := s.registry.People().RefreshCache(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to refresh cache")
	}
	return c.JSON(http.StatusOK, RefreshResponse{Status: "refreshed", CacheSize: n})
}

func (s *Server) handleExtract(c echo.Context) error {
	if s.registry.Extraction() == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "extraction endpoint not configured")
	}

	var in ExtractRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	info, err := s.registry.Extraction().Extract(c.Request().Context(), in.Sentence)
	if err != nil {
		s.logger.Warn(c.Request().Context(), "extraction failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "extraction service unavailable")
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleTranscribe(c echo.Context) error {
	if s.registry.Transcribe() == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "transcription endpoint not configured")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio file is required")
	}
	if file.Size > maxAudioBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "audio file too large")
	}

	f, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to open audio file")
	}
	defer f.Close()

	audio, err := io.ReadAll(io.LimitReader(f, maxAudioBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read audio file")
	}

	text, err := s.registry.Transcribe().Transcribe(c.Request().Context(), audio, c.FormValue("language"))
	if err != nil {
		s.logger.Warn(c.Request().Context(), "transcription failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "transcription service unavailable")
	}
	return c.JSON(http.StatusOK, TranscribeResponse{Text: text})
}
