package upload

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Target is a save path resolved inside the upload root.
type Target struct {
	// Abs is the absolute filesystem path to write.
	Abs string
	// Rel is Abs relative to the root, slash separated. Safe to show clients.
	Rel string
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// windowsDeviceNames are refused as bare names on every platform so stored
// files stay portable.
var windowsDeviceNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {},
}

// SanitizeFilename reduces name to a portable file name that cannot name a
// directory or climb out of one. The result may be empty.
func SanitizeFilename(name string) string {
	name = norm.NFKD.String(name)

	var b strings.Builder
	for _, r := range name {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	name = b.String()

	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")

	if name != "" {
		base := strings.ToUpper(strings.SplitN(name, ".", 2)[0])
		if _, ok := windowsDeviceNames[base]; ok {
			name = "_" + name
		}
	}
	return name
}

// Resolve maps a client save path onto an absolute path under root. root
// must already be absolute and free of symlinks (see New).
//
// The directory part is checked first: it is kept as given but refused when
// it is absolute or has a segment that is, or decodes to, a
// parent reference. The file name part is then sanitized. The joined path is then canonicalized, following
// symlinks of any existing prefix, and must lie strictly inside root.
func Resolve(root, savePath string) (*Target, error) {
	p := strings.ReplaceAll(savePath, "\\", "/")
	if strings.ContainsRune(p, 0) {
		return nil, newError(KindPathTraversal, "save path contains a NUL byte")
	}

	dir, file := path.Split(p)
	if path.IsAbs(dir) || filepath.VolumeName(filepath.FromSlash(dir)) != "" {
		return nil, newError(KindPathTraversal, "save path must be relative")
	}
	for _, seg := range strings.Split(dir, "/") {
		if escapesSegment(seg) {
			return nil, newError(KindPathTraversal, "save path leaves the upload directory")
		}
	}

	safe := SanitizeFilename(file)
	if safe == "" {
		return nil, newError(KindMissingDestination, "save path has no usable file name")
	}

	abs := filepath.Clean(filepath.Join(root, filepath.FromSlash(path.Join(dir, safe))))
	if !within(root, abs) {
		return nil, newError(KindPathTraversal, "save path leaves the upload directory")
	}

	canon, err := canonical(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// A dangling symlink on the way; its target cannot be verified.
			return nil, newError(KindPathTraversal, "save path leaves the upload directory")
		}
		return nil, storageError("resolve save path", err)
	}
	if !within(root, canon) {
		return nil, newError(KindPathTraversal, "save path leaves the upload directory")
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, newError(KindPathTraversal, "save path leaves the upload directory")
	}
	return &Target{Abs: canon, Rel: filepath.ToSlash(rel)}, nil
}

// escapesSegment reports whether a directory segment is a parent reference,
// either literally or after percent-decoding or compatibility folding.
func escapesSegment(seg string) bool {
	if seg == ".." {
		return true
	}
	decoded := seg
	for i := 0; i < 4; i++ {
		u, err := url.PathUnescape(decoded)
		if err != nil || u == decoded {
			break
		}
		decoded = u
	}
	decoded = norm.NFKC.String(decoded)
	if decoded == seg {
		return false
	}
	return strings.Contains(decoded, "..") ||
		strings.ContainsAny(decoded, "/\\\x00")
}

// canonical resolves symlinks in the longest existing prefix of p and
// re-appends the components that do not exist yet.
func canonical(p string) (string, error) {
	existing := p
	var rest []string
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append(rest, filepath.Base(existing))
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	for i := len(rest) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, rest[i])
	}
	return resolved, nil
}

// within reports whether p lies strictly below root.
func within(root, p string) bool {
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return p != root && strings.HasPrefix(p, prefix)
}
