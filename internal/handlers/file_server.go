package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FilePrefix is the URL path prefix under which artifacts are served
const FilePrefix = "/file="

// FileServer serves artifact files by absolute path, confined to one root
type FileServer struct {
	root   string
	logger *zap.Logger
}

// NewFileServer creates a file server for files under root
func NewFileServer(root string, logger *zap.Logger) (*FileServer, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &FileServer{root: filepath.Clean(abs), logger: logger}, nil
}

// RegisterRoutes registers the artifact route
func (s *FileServer) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/", s)
}

// ServeHTTP handles GET /file=<absolute path>
func (s *FileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !strings.HasPrefix(r.URL.Path, FilePrefix) {
		http.NotFound(w, r)
		return
	}

	// r.URL.Path is already unescaped
	path, ok := s.resolve(strings.TrimPrefix(r.URL.Path, FilePrefix))
	if !ok {
		s.logger.Warn("Rejected file request outside artifact directory", zap.String("path", r.URL.Path))
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}

	s.logger.Debug("Serving artifact", zap.String("path", path))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// resolve maps a requested path to a file strictly inside root
func (s *FileServer) resolve(requested string) (string, bool) {
	if requested == "" {
		return "", false
	}
	path := filepath.Clean(filepath.FromSlash(requested))
	if !filepath.IsAbs(path) {
		return "", false
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}
