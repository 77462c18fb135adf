package speech_to_text

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// RequireModelFile checks that dir holds at least one of the given relative paths and that it
// can be opened. Engines call it before handing the directory to a C loader, which does not
// report unreadable models.
func RequireModelFile(fsys afero.Fs, dir string, anyOf ...string) error {
	var problems []string

	for _, rel := range anyOf {
		path := filepath.Join(dir, rel)

		f, err := fsys.Open(path)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}

		_ = f.Close()
		return nil
	}

	return fmt.Errorf("model at %s is incomplete or unreadable: %s", dir, strings.Join(problems, "; "))
}
