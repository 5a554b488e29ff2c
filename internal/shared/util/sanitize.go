package util

import (
	"errors"
	"strings"
)

// SanitizeFileName flattens an uploaded file name and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if s == "" || strings.Trim(s, ".") == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

// SanitizeArchivePath turns an archive entry name into a relative slash path.
// Drive letters, leading slashes, "." and ".." segments are dropped. It
// returns "" when nothing usable remains.
func SanitizeArchivePath(name string) string {
	s := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if len(s) >= 2 && s[1] == ':' && isASCIILetter(s[0]) {
		s = s[2:]
	}
	var parts []string
	for _, part := range strings.Split(s, "/") {
		part = strings.TrimSpace(part)
		if part == "" || part == "." || part == ".." {
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return ""
	}
	if strings.Trim(parts[len(parts)-1], ".") == "" {
		return ""
	}
	return strings.Join(parts, "/")
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
