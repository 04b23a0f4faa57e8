package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ytmeta/ytmeta/internal/core/downloader"
	"github.com/ytmeta/ytmeta/internal/core/extractor"
)

// VideoContentType is sent for every successful download, whatever the container
const VideoContentType = "video/mp4"

var errURLRequired = errors.New("URL is required")

// MetadataRequest is the request body for POST /metadata
type MetadataRequest struct {
	URL string `json:"url"`
}

// DownloadRequest is the request body for POST /download
type DownloadRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

// ErrorResponse is returned with status 200 for every failure
type ErrorResponse struct {
	Error string `json:"error"`
}

// bindRequest decodes the JSON body into obj. An empty body leaves obj zeroed
// so the caller reports the missing URL instead of a decode error.
func bindRequest(c *gin.Context, obj any) error {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) respondError(c *gin.Context, route string, err error) {
	outcome := outcomeError
	if errors.Is(err, errURLRequired) {
		outcome = outcomeInvalid
	}
	s.metrics.countRequest(route, outcome)
	c.JSON(http.StatusOK, ErrorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMetadata(c *gin.Context) {
	var req MetadataRequest
	if err := bindRequest(c, &req); err != nil {
		s.respondError(c, routeMetadata, err)
		return
	}
	if req.URL == "" {
		s.respondError(c, routeMetadata, errURLRequired)
		return
	}

	// A client disconnect does not abort extraction
	ctx := context.WithoutCancel(c.Request.Context())

	start := time.Now()
	info, err := s.extractor.Metadata(ctx, req.URL)
	s.metrics.observeExtraction(routeMetadata, start)
	if err != nil {
		log.Printf("[server] metadata %s: %v", req.URL, err)
		s.respondError(c, routeMetadata, err)
		return
	}

	s.metrics.countRequest(routeMetadata, outcomeSuccess)
	c.JSON(http.StatusOK, extractor.NewMetadata(info))
}

func (s *Server) handleDownload(c *gin.Context) {
	var req DownloadRequest
	if err := bindRequest(c, &req); err != nil {
		s.respondError(c, routeDownload, err)
		return
	}
	if req.URL == "" {
		s.respondError(c, routeDownload, errURLRequired)
		return
	}
	if req.Quality == "" {
		req.Quality = extractor.QualityBest
	}

	ctx := context.WithoutCancel(c.Request.Context())

	start := time.Now()
	artifact, err := s.fetch(ctx, req.URL, req.Quality)
	s.metrics.observeExtraction(routeDownload, start)
	if err != nil {
		log.Printf("[server] download %s (%s): %v", req.URL, req.Quality, err)
		s.respondError(c, routeDownload, err)
		return
	}
	defer s.removeAfterSend(c, artifact)

	s.metrics.countRequest(routeDownload, outcomeSuccess)
	s.metrics.addDownloadBytes(artifact.Size)

	c.Header("Content-Type", VideoContentType)
	c.FileAttachment(artifact.Path, artifact.Name)
}

// fetch downloads url into a private work directory and moves the result to
// the output directory. The work directory is gone when fetch returns.
func (s *Server) fetch(ctx context.Context, url, quality string) (*downloader.Artifact, error) {
	outputDir, err := s.outputDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}

	work, err := downloader.NewWorkDir(s.opts.TempDir)
	if err != nil {
		return nil, err
	}
	defer work.Cleanup()

	path, err := s.extractor.Download(ctx, url, extractor.DownloadOptions{
		Format:    extractor.FormatSpec(quality),
		OutputDir: work.Path(),
	})
	if err != nil {
		return nil, err
	}

	return downloader.Relocate(path, outputDir)
}

// removeAfterSend deletes the artifact once the body has been handed to the connection
func (s *Server) removeAfterSend(c *gin.Context, artifact *downloader.Artifact) {
	c.Writer.Flush()
	if err := artifact.Remove(); err != nil {
		log.Printf("[download] warning: could not remove %s: %v", artifact.Path, err)
	}
}
