package upload

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// maxFilenameLen bounds the sanitized filename part of a key; S3 keys are
// limited to 1024 bytes and the folder and id need room too.
const maxFilenameLen = 200

// NewKey composes "<folder>/<id>-<filename>" (or "<id>-<filename>" without a
// folder). The random id makes every key unique, even for identical inputs.
func NewKey(folder, filename string) (string, error) {
	folder, err := CleanFolder(folder)
	if err != nil {
		return "", err
	}
	name := SanitizeFilename(filename)
	id := uuid.NewString()
	if folder == "" {
		return id + "-" + name, nil
	}
	return folder + "/" + id + "-" + name, nil
}

// SanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with '-'. Runs of '-' collapse and leading dots or dashes
// are dropped, so the result is never a hidden file or a path.
func SanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))

	var b strings.Builder
	lastDash := false
	for _, r := range base {
		ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '-'
		if !ok {
			r = '-'
		}
		if r == '-' {
			if lastDash {
				continue
			}
			lastDash = true
		} else {
			lastDash = false
		}
		b.WriteRune(r)
	}

	name := strings.TrimLeft(b.String(), ".-")
	if len(name) > maxFilenameLen {
		name = name[len(name)-maxFilenameLen:]
		name = strings.TrimLeft(name, ".-")
	}
	if name == "" {
		return "file"
	}
	return name
}

// CleanFolder trims surrounding slashes and rejects empty, "." and ".."
// segments so a folder can never escape its prefix.
func CleanFolder(folder string) (string, error) {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return "", nil
	}
	for _, seg := range strings.Split(folder, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: folder %q has an invalid segment", ErrValidation, folder)
		}
		if SanitizeFilename(seg) != seg {
			return "", fmt.Errorf("%w: folder %q contains unsupported characters", ErrValidation, folder)
		}
	}
	return folder, nil
}
