package sandbox

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// resolveGlobalSkillMounts walks dir for symlinks and returns the set of
// distinct resolved target parent directories, so the caller can add one
// read-only bind mount per directory and let bash inside the container
// resolve skill files referenced by their host absolute paths. Idempotent:
// running it twice over the same tree yields the same set, and a stale
// symlink is simply skipped rather than cached. Failures are logged at
// debug level and never fatal.
func resolveGlobalSkillMounts(dir string, log zerolog.Logger) []string {
	seen := make(map[string]struct{})

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("skill walk error")
			return nil
		}
		info, err := os.Lstat(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("skill lstat error")
			return nil
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return nil
		}
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("skill symlink unresolved")
			return nil
		}
		seen[filepath.Dir(target)] = struct{}{}
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("dir", dir).Msg("skill tree walk failed")
	}

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	return out
}
