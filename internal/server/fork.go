package server

import (
	"io"
	"net/http"

	"github.com/agentserver/sessionrt/internal/workspace"
)

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// copyTree duplicates every file that Tree lists from the source session's
// workspace into the destination's, giving ForkSession's message copy an
// equivalent on the filesystem side. Hidden entries (leading ".") are not
// listed by Tree and so are not copied.
func copyTree(ws *workspace.Service, sourceID, destID string) error {
	entries, err := ws.Tree(sourceID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type != "file" {
			continue
		}
		data, err := ws.Read(sourceID, e.Path)
		if err != nil {
			return err
		}
		if _, err := ws.Write(destID, e.Path, data, nil); err != nil {
			return err
		}
	}
	return nil
}
