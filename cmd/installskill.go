package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"
)

var installSkillForce bool

// installSkillCmd clones repoURL and copies skillName's directory into
// PI_SKILLS_DIR, which internal/sandbox bind-mounts read-only into every
// sandbox container (resolveGlobalSkillMounts adds mounts only for the
// targets of symlinks found there).
var installSkillCmd = &cobra.Command{
	Use:   "install-skill <repo-url> <skill-name>",
	Args:  cobra.ExactArgs(2),
	Short: "Install a skill from a git repository into the global skills directory",
	Run: func(cmd *cobra.Command, args []string) {
		repoURL, skillName := args[0], args[1]

		skillsDir := os.Getenv("PI_SKILLS_DIR")
		if skillsDir == "" {
			fatal(fmt.Errorf("PI_SKILLS_DIR is required"))
		}
		dest := filepath.Join(skillsDir, skillName)
		if _, err := os.Stat(dest); err == nil {
			if !installSkillForce {
				fatal(fmt.Errorf("skill %q already installed (use --force to overwrite)", skillName))
			}
			if err := os.RemoveAll(dest); err != nil {
				fatal(fmt.Errorf("remove existing skill: %w", err))
			}
		}

		tmpDir, err := os.MkdirTemp("", "install-skill-*")
		if err != nil {
			fatal(err)
		}
		defer os.RemoveAll(tmpDir)

		if _, err := git.PlainClone(tmpDir, false, &git.CloneOptions{
			URL:   repoURL,
			Depth: 1,
		}); err != nil {
			fatal(fmt.Errorf("clone %s: %w", repoURL, err))
		}

		src := filepath.Join(tmpDir, skillName)
		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			fatal(fmt.Errorf("repository has no skill directory %q", skillName))
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			fatal(err)
		}
		if err := copyDir(src, dest); err != nil {
			fatal(fmt.Errorf("install skill: %w", err))
		}
		fmt.Printf("installed skill %q from %s\n", skillName, repoURL)
	},
}

func copyDir(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

func init() {
	installSkillCmd.Flags().BoolVar(&installSkillForce, "force", false, "overwrite an existing skill with the same name")
	rootCmd.AddCommand(installSkillCmd)
}
