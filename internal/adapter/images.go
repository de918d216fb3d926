package adapter

import (
	"os"
	"path/filepath"
	"strings"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// FindImageRefs scans text for whitespace-delimited tokens that look like
// a path to an existing regular image file: absolute, home-prefixed
// (~/...), or relative to cwd. Each qualifying path is returned at most
// once, in the order first seen.
func FindImageRefs(text, cwd string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, "\"'.,;:()[]{}")
		if tok == "" {
			continue
		}
		ext := strings.ToLower(filepath.Ext(tok))
		if !imageExtensions[ext] {
			continue
		}

		resolved, ok := resolvePath(tok, cwd)
		if !ok || seen[resolved] {
			continue
		}

		info, err := os.Stat(resolved)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		seen[resolved] = true
		out = append(out, resolved)
	}

	return out
}

func resolvePath(tok, cwd string) (string, bool) {
	switch {
	case filepath.IsAbs(tok):
		return tok, true
	case strings.HasPrefix(tok, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		return filepath.Join(home, tok[2:]), true
	case cwd != "":
		return filepath.Join(cwd, tok), true
	default:
		return "", false
	}
}
