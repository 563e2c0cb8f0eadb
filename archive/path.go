package archive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Extension is the file suffix of a packaged crate.
const Extension = ".crate"

// Path identifies one archive on disk.
type Path struct {
	Name     string
	Version  string
	Location string
}

// ID returns "<name>-<version>", the directory name the archive is mounted at.
func (p Path) ID() string {
	return p.Name + "-" + p.Version
}

func (p Path) String() string {
	return p.ID()
}

// ParseFileName derives a Path from a file named "<name>-<version>.crate"
// inside dir. The version begins at the first hyphen followed by a
// "<major>.<minor>.<patch>" triple; crate names may themselves contain hyphens.
func ParseFileName(dir, file string) (Path, error) {
	stem, ok := strings.CutSuffix(file, Extension)
	if !ok {
		return Path{}, fmt.Errorf("%w: %q: missing %s suffix", ErrInvalidName, file, Extension)
	}
	for i := 0; i < len(stem); i++ {
		if stem[i] != '-' || i == 0 {
			continue
		}
		if isVersion(stem[i+1:]) {
			return Path{
				Name:     stem[:i],
				Version:  stem[i+1:],
				Location: filepath.Join(dir, file),
			}, nil
		}
	}
	return Path{}, fmt.Errorf("%w: %q: no version component", ErrInvalidName, file)
}

// isVersion reports whether s starts with three dot-separated numbers. Any
// pre-release or build suffix after the triple is accepted as is.
func isVersion(s string) bool {
	for field := range 3 {
		n := 0
		for n < len(s) && s[n] >= '0' && s[n] <= '9' {
			n++
		}
		if n == 0 {
			return false
		}
		s = s[n:]
		if field < 2 {
			if len(s) == 0 || s[0] != '.' {
				return false
			}
			s = s[1:]
		}
	}
	return len(s) == 0 || s[0] == '-' || s[0] == '+'
}
