// Package pathutil provides path manipulation for slash-separated mount paths.
package pathutil

import "strings"

// Base returns the last element of a slash-separated path.
// If path is empty or ".", it returns ".".
func Base(path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" || path == "." {
		return "."
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Split breaks a path into its components, dropping empty elements.
// "." and ".." are kept so callers can apply their own resolution rules.
func Split(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	raw := strings.Split(path, "/")
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Join builds an absolute mount path from components.
func Join(parts ...string) string {
	return "/" + strings.Join(parts, "/")
}

// Rel returns a relative path leading from the directory dir to target,
// both given as components from a common root.
func Rel(dir, target []string) string {
	common := 0
	for common < len(dir) && common < len(target) && dir[common] == target[common] {
		common++
	}
	parts := make([]string, 0, len(dir)-common+len(target)-common)
	for range len(dir) - common {
		parts = append(parts, "..")
	}
	parts = append(parts, target[common:]...)
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}
