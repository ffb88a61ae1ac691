package setup

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// TutorialsDirName is the repository-relative directory holding the
// tutorials' copy of the dataset.
const TutorialsDirName = "tutorials"

// FindRepoRoot returns the nearest ancestor of dir (dir included) that
// contains a .git entry, or dir itself when there is none.
func FindRepoRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, "resolving working directory")
	}
	for d := abs; ; {
		if _, err := os.Stat(filepath.Join(d, ".git")); err == nil {
			return d, nil
		}
		parent := filepath.Dir(d)
		if parent == d {
			return abs, nil
		}
		d = parent
	}
}

// DefaultTutorialsDir returns <repo root>/tutorials for the working directory.
func DefaultTutorialsDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "getting working directory")
	}
	root, err := FindRepoRoot(wd)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, TutorialsDirName), nil
}
