package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	perrors "github.com/yungbote/paperbridge-backend/internal/pkg/errors"
	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

// Store persists raw file bytes beneath a single root directory. Locators are
// root-relative, slash separated paths of the form [subfolder/]base-<uuid>.ext.
type Store interface {
	Init() error
	Root() string
	Store(ctx context.Context, data []byte, originalName string, subfolder string) (string, error)
	Load(ctx context.Context, locator string) ([]byte, error)
	Open(ctx context.Context, locator string) (*os.File, os.FileInfo, error)
	Resolve(locator string) (string, error)
	Exists(locator string) (bool, error)
	Delete(ctx context.Context, locator string) error
}

// SecurityObserver is notified whenever a path escape attempt is rejected.
type SecurityObserver func(op string, input string)

type Option func(*fsStore)

func WithSecurityObserver(fn SecurityObserver) Option {
	return func(s *fsStore) { s.onEscape = fn }
}

type fsStore struct {
	log      *logger.Logger
	root     string
	onEscape SecurityObserver
}

// New builds a filesystem store rooted at root. The root is made absolute but
// not created; call Init before use.
func New(log *logger.Logger, root string, opts ...Option) (Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: storage root required", perrors.ErrInvalidInput)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve storage root: %w", perrors.ErrStorageIO, err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &fsStore{
		log:  log.With("service", "BlobStore", "root", abs),
		root: filepath.Clean(abs),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *fsStore) Root() string { return s.root }

func (s *fsStore) Init() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("%w: create storage root: %w", perrors.ErrStorageIO, err)
	}
	// A symlinked root is followed once here so containment checks compare real paths.
	real, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return fmt.Errorf("%w: resolve storage root: %w", perrors.ErrStorageIO, err)
	}
	s.root = filepath.Clean(real)
	return nil
}

func (s *fsStore) Store(ctx context.Context, data []byte, originalName string, subfolder string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if len(data) == 0 {
		return "", fmt.Errorf("%w: file is empty", perrors.ErrInvalidInput)
	}
	base, ext, err := splitFilename(originalName)
	if err != nil {
		if errors.Is(err, perrors.ErrPathEscape) {
			s.reportEscape("store", originalName)
		}
		return "", err
	}
	folder, err := cleanSubfolder(subfolder)
	if err != nil {
		s.reportEscape("store", subfolder)
		return "", err
	}

	name := base + "-" + uuid.New().String() + ext
	rel := name
	if folder != "" {
		rel = path.Join(folder, name)
	}

	dest, err := s.contain(rel)
	if err != nil {
		s.reportEscape("store", rel)
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", perrors.ErrStorageIO, err)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create directory: %w", perrors.ErrStorageIO, err)
	}
	// The directory may pre-exist as a symlink planted beneath the root.
	if err := s.containReal(dir); err != nil {
		s.reportEscape("store", rel)
		return "", err
	}
	if err := writeAtomic(dir, dest, data); err != nil {
		s.log.Error("blob write failed", "locator", rel, "error", err)
		return "", fmt.Errorf("%w: write %s: %w", perrors.ErrStorageIO, rel, err)
	}

	s.log.Debug("blob stored", "locator", rel, "size_bytes", len(data))
	return rel, nil
}

func (s *fsStore) Resolve(locator string) (string, error) {
	rel, err := cleanLocator(locator)
	if err != nil {
		if errors.Is(err, perrors.ErrPathEscape) {
			s.reportEscape("load", locator)
		}
		return "", err
	}
	abs, err := s.contain(rel)
	if err != nil {
		s.reportEscape("load", locator)
		return "", err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: blob %s", perrors.ErrNotFound, rel)
		}
		return "", fmt.Errorf("%w: stat %s: %w", perrors.ErrStorageIO, rel, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: blob %s", perrors.ErrNotFound, rel)
	}
	if err := s.containReal(abs); err != nil {
		s.reportEscape("load", locator)
		return "", err
	}
	return abs, nil
}

func (s *fsStore) Load(ctx context.Context, locator string) ([]byte, error) {
	f, _, err := s.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", perrors.ErrStorageIO, locator, err)
	}
	return data, nil
}

func (s *fsStore) Open(ctx context.Context, locator string) (*os.File, os.FileInfo, error) {
	if err := ctxutil.Default(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", perrors.ErrStorageIO, err)
	}
	abs, err := s.Resolve(locator)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: blob %s", perrors.ErrNotFound, locator)
		}
		return nil, nil, fmt.Errorf("%w: open %s: %w", perrors.ErrStorageIO, locator, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%w: stat %s: %w", perrors.ErrStorageIO, locator, err)
	}
	return f, info, nil
}

func (s *fsStore) Exists(locator string) (bool, error) {
	_, err := s.Resolve(locator)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, perrors.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *fsStore) Delete(ctx context.Context, locator string) error {
	if err := ctxutil.Default(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", perrors.ErrStorageIO, err)
	}
	abs, err := s.Resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: blob %s", perrors.ErrNotFound, locator)
		}
		return fmt.Errorf("%w: remove %s: %w", perrors.ErrStorageIO, locator, err)
	}
	s.log.Debug("blob deleted", "locator", locator)
	return nil
}

// contain joins rel onto the root and verifies the cleaned result is a strict
// descendant of the root.
func (s *fsStore) contain(rel string) (string, error) {
	candidate := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(rel)))
	if !isDescendant(s.root, candidate) {
		return "", fmt.Errorf("%w: %q", perrors.ErrPathEscape, rel)
	}
	return candidate, nil
}

func (s *fsStore) containReal(p string) error {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", perrors.ErrNotFound, p)
		}
		return fmt.Errorf("%w: resolve %s: %w", perrors.ErrStorageIO, p, err)
	}
	if real != s.root && !isDescendant(s.root, real) {
		return fmt.Errorf("%w: %q resolves outside root", perrors.ErrPathEscape, p)
	}
	return nil
}

func (s *fsStore) reportEscape(op, input string) {
	s.log.Warn("rejected path outside storage root",
		"security_event", "path_escape",
		"op", op,
		"input", input,
	)
	if s.onEscape != nil {
		s.onEscape(op, input)
	}
}

func isDescendant(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func writeAtomic(dir, dest string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".upload-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return err
	}
	committed = true
	return nil
}

var unsafeNameChars = regexp.MustCompile(`[\x00-\x1f\x7f:*?"<>|]`)

// splitFilename turns a client supplied filename into a safe base and
// extension. Traversal segments and absolute paths are rejected outright;
// other directory components are dropped.
func splitFilename(originalName string) (string, string, error) {
	name := strings.TrimSpace(originalName)
	if name == "" {
		return "", "", fmt.Errorf("%w: filename required", perrors.ErrInvalidInput)
	}
	name = strings.ReplaceAll(name, `\`, "/")
	if isAbsoluteLike(name) {
		return "", "", fmt.Errorf("%w: absolute filename %q", perrors.ErrPathEscape, originalName)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return "", "", fmt.Errorf("%w: filename %q", perrors.ErrPathEscape, originalName)
		}
	}

	file := path.Base(path.Clean(name))
	if file == "." || file == "/" || file == "" {
		return "", "", fmt.Errorf("%w: filename %q has no name component", perrors.ErrInvalidInput, originalName)
	}
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	if base == "" {
		// dotfile such as ".env": treat the whole name as the base
		base = strings.TrimPrefix(ext, ".")
		ext = ""
	}
	base = unsafeNameChars.ReplaceAllString(base, "_")
	ext = unsafeNameChars.ReplaceAllString(ext, "_")
	if strings.TrimSpace(base) == "" {
		return "", "", fmt.Errorf("%w: filename %q has no name component", perrors.ErrInvalidInput, originalName)
	}
	return base, ext, nil
}

func cleanSubfolder(subfolder string) (string, error) {
	sf := strings.TrimSpace(strings.ReplaceAll(subfolder, `\`, "/"))
	if sf == "" {
		return "", nil
	}
	if isAbsoluteLike(sf) {
		return "", fmt.Errorf("%w: absolute subfolder %q", perrors.ErrPathEscape, subfolder)
	}
	for _, seg := range strings.Split(sf, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: subfolder %q", perrors.ErrPathEscape, subfolder)
		}
		if unsafeNameChars.MatchString(seg) {
			return "", fmt.Errorf("%w: subfolder %q contains unsafe characters", perrors.ErrInvalidInput, subfolder)
		}
	}
	cleaned := path.Clean(sf)
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

func cleanLocator(locator string) (string, error) {
	loc := strings.TrimSpace(locator)
	if loc == "" {
		return "", fmt.Errorf("%w: locator required", perrors.ErrInvalidInput)
	}
	if strings.ContainsRune(loc, 0) {
		return "", fmt.Errorf("%w: locator contains NUL", perrors.ErrInvalidInput)
	}
	loc = strings.ReplaceAll(loc, `\`, "/")
	if isAbsoluteLike(loc) {
		return "", fmt.Errorf("%w: absolute locator %q", perrors.ErrPathEscape, locator)
	}
	cleaned := path.Clean(loc)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: locator %q", perrors.ErrPathEscape, locator)
	}
	return cleaned, nil
}

func isAbsoluteLike(p string) bool {
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) {
		return true
	}
	// drive letters ("C:") count as absolute regardless of host OS
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

var tokenSuffix = regexp.MustCompile(`-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// OriginalName recovers the client filename a locator was derived from by
// dropping the directory and the uniqueness token.
func OriginalName(locator string) string {
	file := path.Base(strings.ReplaceAll(locator, `\`, "/"))
	ext := path.Ext(file)
	base := tokenSuffix.ReplaceAllString(strings.TrimSuffix(file, ext), "")
	if base == "" {
		return file
	}
	return base + ext
}

// Folder returns the directory portion of a locator, or "" for root-level blobs.
func Folder(locator string) string {
	dir := path.Dir(strings.ReplaceAll(locator, `\`, "/"))
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
