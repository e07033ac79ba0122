package workspace

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
)

type PreviewKind string

const (
	PreviewCSV    PreviewKind = "csv"
	PreviewText   PreviewKind = "text"
	PreviewMedia  PreviewKind = "media" // image or PDF, URL handle
	PreviewBinary PreviewKind = "binary"
)

type Preview struct {
	Kind PreviewKind
	Rows [][]string // PreviewCSV
	Text string     // PreviewText
	URL  string     // PreviewMedia
}

const (
	csvPreviewRows  = 100
	textPreviewSize = 100_000
)

// Preview implements the typed preview: CSV (first 100 rows via
// the embedded tokenizer), UTF-8 text (first 100 000 bytes), images/PDF (a
// URL handle pointing at the HTTP layer's file-content route), else binary.
func (s *Service) Preview(sessionID, relPath string) (Preview, error) {
	root, err := s.Root(sessionID)
	if err != nil {
		return Preview{}, err
	}
	abs, err := resolve(root, relPath)
	if err != nil {
		return Preview{}, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return Preview{}, fmt.Errorf("open for preview: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	head = head[:n]
	contentType := http.DetectContentType(head)

	switch {
	case isCSVPath(relPath):
		buf := make([]byte, textPreviewSize)
		f.Seek(0, 0)
		n, _ := f.Read(buf)
		return Preview{Kind: PreviewCSV, Rows: ParseCSVRows(string(buf[:n]), csvPreviewRows)}, nil

	case contentType == "application/pdf" || hasPrefix(contentType, "image/"):
		return Preview{Kind: PreviewMedia, URL: fmt.Sprintf("/api/files/content?sessionId=%s&path=%s", url.QueryEscape(sessionID), url.QueryEscape(relPath))}, nil

	case isLikelyText(head):
		buf := make([]byte, textPreviewSize)
		f.Seek(0, 0)
		n, _ := f.Read(buf)
		return Preview{Kind: PreviewText, Text: string(buf[:n])}, nil

	default:
		return Preview{Kind: PreviewBinary}, nil
	}
}

func isCSVPath(p string) bool {
	return len(p) >= 4 && p[len(p)-4:] == ".csv"
}

func hasPrefix(s, p string) bool {
	return len(s) >= len(p) && s[:len(p)] == p
}

// isLikelyText rejects content containing NUL bytes in its sample, a cheap
// and common heuristic for "probably not binary".
func isLikelyText(sample []byte) bool {
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	return true
}
