package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/imagedrop/imagedrop/server/internal/reqctx"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Result describes a stored upload.
type Result struct {
	// RelativePath is where the file was written, relative to the upload root.
	RelativePath string
	DetectedType string
	Bytes        int64
}

// Handler stores uploads under a single root directory.
type Handler struct {
	root string
}

// New returns a Handler rooted at dir. dir must exist; it is made absolute
// and its symlinks resolved so containment checks compare canonical paths.
func New(dir string) (*Handler, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("upload: root %q: %w", dir, err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("upload: root %q: %w", dir, err)
	}
	fi, err := os.Stat(canon)
	if err != nil {
		return nil, fmt.Errorf("upload: root %q: %w", dir, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("upload: root %q is not a directory", dir)
	}
	return &Handler{root: canon}, nil
}

// Root returns the canonical upload root.
func (h *Handler) Root() string { return h.root }

// Handle validates and stores one upload. file may be nil when the client
// sent no file part. declaredName is used for logging only.
func (h *Handler) Handle(ctx context.Context, file io.Reader, declaredName, savePath string) (*Result, error) {
	log := slog.With("client_ip", reqctx.ClientIP(ctx), "request_id", reqctx.RequestID(ctx))

	if file == nil || declaredName == "" {
		return nil, newError(KindMissingFile, "no 'image' field found or no file selected")
	}
	if savePath == "" {
		return nil, newError(KindMissingDestination, "the 'save_path' field is required")
	}

	detected, body, err := Sniff(file)
	if err != nil {
		return nil, storageError("read upload", err)
	}
	if !Allowed(detected) {
		return nil, &Error{
			Kind:         KindUnsupportedType,
			Msg:          "file type not allowed; only JPEG or PNG images are accepted (checked by content)",
			DetectedType: detected,
		}
	}

	target, err := Resolve(h.root, savePath)
	if err != nil {
		return nil, err
	}

	log.Info("upload: processing file",
		"original_name", declaredName,
		"detected_type", detected,
		"destination", target.Rel,
	)

	if err := ctx.Err(); err != nil {
		return nil, storageError("request cancelled", err)
	}

	dir := filepath.Dir(target.Abs)
	_, statErr := os.Stat(dir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		log.Error("upload: create directories failed", "dir", dir, "err", err)
		return nil, storageError("create directories", err)
	}
	if os.IsNotExist(statErr) {
		log.Info("upload: created directories", "dir", dir)
	}

	n, err := writeFile(target.Abs, body)
	if err != nil {
		log.Error("upload: write failed", "destination", target.Rel, "err", err)
		return nil, storageError("save file", err)
	}

	log.Info("upload: file saved",
		"original_name", declaredName,
		"destination", target.Rel,
		"bytes", n,
	)
	return &Result{RelativePath: target.Rel, DetectedType: detected, Bytes: n}, nil
}

// writeFile creates or truncates path and copies r into it. An existing
// symlink at path is refused; Resolve already followed it, so one appearing
// here was swapped in after the containment check.
func writeFile(path string, r io.Reader) (int64, error) {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return 0, fmt.Errorf("%s: destination is a symlink", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
