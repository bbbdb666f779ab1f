package playback

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeClip(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ep01_00009800_00011200.wav")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func serve(t *testing.T, method, path, rangeHeader string) *httptest.ResponseRecorder {
	t.Helper()
	s := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest(method, "/audio", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rr := httptest.NewRecorder()
	if err := s.ServeFile(rr, req, path); err != nil {
		t.Fatalf("ServeFile: %v", err)
	}
	return rr
}

func TestServeFile_Full(t *testing.T) {
	path := writeClip(t, 1000)
	rr := serve(t, http.MethodGet, path, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.Len() != 1000 {
		t.Errorf("body = %d bytes, want 1000", rr.Body.Len())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected Cache-Control: no-store")
	}
}

func TestServeFile_Range(t *testing.T) {
	path := writeClip(t, 1000)
	rr := serve(t, http.MethodGet, path, "bytes=100-199")

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	body := rr.Body.Bytes()
	if len(body) != 100 || body[0] != byte(100%251) {
		t.Errorf("body = %d bytes starting %d", len(body), body[0])
	}
}

func TestServeFile_Unsatisfiable(t *testing.T) {
	path := writeClip(t, 1000)
	rr := serve(t, http.MethodGet, path, "bytes=5000-")

	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes */1000" {
		t.Errorf("Content-Range = %q", got)
	}
}

func TestServeFile_InvalidRangeServesWhole(t *testing.T) {
	path := writeClip(t, 300)
	rr := serve(t, http.MethodGet, path, "chars=0-10")

	if rr.Code != http.StatusOK || rr.Body.Len() != 300 {
		t.Errorf("status = %d, body = %d", rr.Code, rr.Body.Len())
	}
}

func TestServeFile_Head(t *testing.T) {
	path := writeClip(t, 1000)
	rr := serve(t, http.MethodHead, path, "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("HEAD body = %d bytes, want 0", rr.Body.Len())
	}
	if rr.Header().Get("Content-Length") != "1000" {
		t.Errorf("Content-Length = %q", rr.Header().Get("Content-Length"))
	}
}

func TestServeFile_Missing(t *testing.T) {
	rr := serve(t, http.MethodGet, filepath.Join(t.TempDir(), "gone.wav"), "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestServeFile_Directory(t *testing.T) {
	rr := serve(t, http.MethodGet, t.TempDir(), "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}
