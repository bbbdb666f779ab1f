// Package playback serves stored audio artifacts over HTTP with byte-range
// support so browsers can seek within a clip.
package playback

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type PlaybackService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeFile writes filePath, or the requested range of it. Artifacts are
// rewritten in place under fixed names (the latest pointers), so responses
// are never cached.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType(filePath))
	h.Set("Cache-Control", "no-store")
	h.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))

	parsedRange, err := ParseRange(r.Header.Get("Range"), size)
	switch err {
	case nil, ErrInvalidRange:
		// A malformed header is ignored and the whole file is sent.
	case ErrUnsatisfiable:
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	default:
		return err
	}

	if parsedRange == nil {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err := io.Copy(w, file)
		return ignoreClientGone(err)
	}

	h.Set("Content-Length", strconv.FormatInt(parsedRange.ContentLength(), 10))
	h.Set("Content-Range", parsedRange.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := file.Seek(parsedRange.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	_, err = io.CopyN(w, file, parsedRange.ContentLength())
	return ignoreClientGone(err)
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".wav" {
		return "audio/wav"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ignoreClientGone drops write errors caused by the player closing the
// connection mid-clip, which happens on every seek.
func ignoreClientGone(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "broken pipe") || strings.Contains(err.Error(), "connection reset") {
		return nil
	}
	return err
}

