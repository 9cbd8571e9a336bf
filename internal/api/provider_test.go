package api

import (
	"os"
	"path/filepath"
	"testing"
)

func pngBytes() []byte {
	// PNG signature followed by the start of an IHDR chunk
	return []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
}

func TestNewImage(t *testing.T) {
	img, err := NewImage(pngBytes())
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	if img.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q, want image/png", img.MIMEType)
	}

	if _, err := NewImage(nil); err == nil {
		t.Error("Expected error for empty image")
	}
	if _, err := NewImage([]byte("just some text")); err == nil {
		t.Error("Expected error for non-image content")
	}
}

func TestLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.png")
	if err := os.WriteFile(path, pngBytes(), 0644); err != nil {
		t.Fatal(err)
	}
	img, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage() error = %v", err)
	}
	if len(img.Data) == 0 {
		t.Error("Expected image data")
	}

	if _, err := LoadImage(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestStatusClassString(t *testing.T) {
	if StatusInvalidCredential.String() != "invalid_credential" {
		t.Errorf("unexpected %s", StatusInvalidCredential)
	}
	if StatusClass(99).String() != "other" {
		t.Errorf("unknown class should print as other")
	}
}
