package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Tree returns a recursive pre-order listing with hidden entries (leading
// ".") skipped, each directory appearing before its children. This is the
// one place in the system that filters dotfiles — the watcher (C4) delivers
// all paths including them; see DESIGN.md's resolved Open Question.
// Symlinks that resolve outside the workspace root are skipped rather than
// followed.
func (s *Service) Tree(sessionID string) ([]Entry, error) {
	root, err := s.Root(sessionID)
	if err != nil {
		return nil, err
	}

	var out []Entry
	var walk func(dir, relPrefix string) error
	walk = func(dir, relPrefix string) error {
		children, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

		for _, c := range children {
			if strings.HasPrefix(c.Name(), ".") {
				continue
			}
			abs := filepath.Join(dir, c.Name())
			rel := c.Name()
			if relPrefix != "" {
				rel = relPrefix + "/" + c.Name()
			}

			if c.Type()&os.ModeSymlink != 0 {
				target, err := filepath.EvalSymlinks(abs)
				if err != nil || !withinRoot(root, target) {
					continue
				}
			}

			info, err := c.Info()
			if err != nil {
				continue
			}

			if info.IsDir() {
				out = append(out, Entry{Name: c.Name(), Path: rel, Mtime: info.ModTime(), Type: "dir"})
				if err := walk(abs, rel); err != nil {
					return err
				}
				continue
			}
			out = append(out, Entry{Name: c.Name(), Path: rel, Size: info.Size(), Mtime: info.ModTime(), Type: "file"})
		}
		return nil
	}

	if err := walk(root, ""); err != nil {
		return nil, err
	}
	return out, nil
}

func withinRoot(root, target string) bool {
	cleanRoot := filepath.Clean(root)
	return target == cleanRoot || strings.HasPrefix(target, cleanRoot+string(filepath.Separator))
}
