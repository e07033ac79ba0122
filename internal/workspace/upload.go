package workspace

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

// UploadPart is one file of a multipart upload; Subdir is an optional
// destination subdirectory.
type UploadPart struct {
	Subdir   string
	Filename string
	Reader   io.Reader
}

// Upload writes each part to <subdir>/<filename>, all destinations passing
// the same path-safety check as Write.
func (s *Service) Upload(sessionID string, parts []UploadPart) error {
	root, err := s.Root(sessionID)
	if err != nil {
		return err
	}
	for _, p := range parts {
		rel := filepath.Join(p.Subdir, p.Filename)
		abs, err := resolve(root, rel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("create upload dir: %w", err)
		}
		out, err := os.Create(abs)
		if err != nil {
			return fmt.Errorf("create upload file: %w", err)
		}
		_, copyErr := io.Copy(out, p.Reader)
		out.Close()
		if closer, ok := p.Reader.(io.Closer); ok {
			closer.Close()
		}
		if copyErr != nil {
			return fmt.Errorf("write upload file: %w", copyErr)
		}
	}
	return nil
}

// PartsFromForm adapts a parsed multipart form into UploadParts, reading the
// optional "subdir" field once for all files under the "files" key.
func PartsFromForm(form *multipart.Form) []UploadPart {
	subdir := ""
	if v := form.Value["subdir"]; len(v) > 0 {
		subdir = v[0]
	}
	var parts []UploadPart
	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			continue
		}
		parts = append(parts, UploadPart{Subdir: subdir, Filename: fh.Filename, Reader: f})
	}
	return parts
}
