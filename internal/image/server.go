package image

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/syntrixbase/appview/internal/repo"
)

// Server serves signed blob URLs from the disk cache, filling it from the
// repository reader on a miss.
type Server struct {
	uris   *URIBuilder
	cache  *BlobDiskCache
	reader repo.Reader
	logger *slog.Logger
}

func NewServer(uris *URIBuilder, cache *BlobDiskCache, reader repo.Reader) *Server {
	return &Server{
		uris:   uris,
		cache:  cache,
		reader: reader,
		logger: slog.Default().With("component", "image-server"),
	}
}

// RegisterRoutes mounts the server under /image.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /image/{sig}/{did}/{cid}", s.handleImage)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	sig, did, cid := r.PathValue("sig"), r.PathValue("did"), r.PathValue("cid")
	if !s.uris.Verify(sig, did, cid) {
		http.Error(w, "bad signature", http.StatusBadRequest)
		return
	}

	data, ok, err := s.cache.Get(did, cid)
	if err != nil {
		s.logger.Warn("Blob cache read failed", "did", did, "cid", cid, "error", err)
	}
	if !ok {
		data, err = s.reader.Blob(r.Context(), did, cid)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			s.logger.Error("Failed to fetch blob", "did", did, "cid", cid, "error", err)
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		if err := s.cache.Put(did, cid, data); err != nil {
			s.logger.Warn("Blob cache write failed", "did", did, "cid", cid, "error", err)
		}
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
