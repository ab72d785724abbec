package firmware

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

var versionPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Storage keeps firmware images as files named after their version. Each
// upload gets its own file, so only the catalog decides which one is live.
type Storage struct {
	dir      string
	maxBytes int64
}

type Blob struct {
	Filename string
	Path     string
	Size     int64
	Checksum string
}

func NewStorage(dir string, maxBytes int64) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create firmware dir: %w", err)
	}
	return &Storage{dir: dir, maxBytes: maxBytes}, nil
}

// MaxBytes is the largest image Save accepts; zero means unlimited.
func (s *Storage) MaxBytes() int64 { return s.maxBytes }

func ValidVersion(version string) bool {
	return versionPattern.MatchString(version)
}

// FilenameFor is the download name a device sees for version.
func FilenameFor(version string) string {
	return "firmware-" + version + ".bin"
}

func blobName(version string) string {
	return "firmware-" + version + "-" + uuid.NewString()[:8] + ".bin"
}

// Save streams body to disk. The image only appears under its final name
// once fully written; any failure leaves nothing behind. The final name is
// never reused, so a concurrent upload of the same version cannot replace it.
func (s *Storage) Save(version string, body io.Reader) (Blob, error) {
	if !ValidVersion(version) {
		return Blob{}, fmt.Errorf("%w: invalid firmware version %q", apperr.ErrValidation, version)
	}
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return Blob{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	h := blake3.New()
	src := body
	if s.maxBytes > 0 {
		src = io.LimitReader(body, s.maxBytes+1)
	}
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		return Blob{}, err
	}
	if n == 0 {
		return Blob{}, fmt.Errorf("%w: firmware image is empty", apperr.ErrValidation)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return Blob{}, fmt.Errorf("%w: firmware image exceeds %d bytes", apperr.ErrValidation, s.maxBytes)
	}
	if err := tmp.Sync(); err != nil {
		return Blob{}, err
	}
	if err := tmp.Close(); err != nil {
		return Blob{}, err
	}

	final := filepath.Join(s.dir, blobName(version))
	// Link fails rather than overwrite an existing file.
	if err := os.Link(tmp.Name(), final); err != nil {
		return Blob{}, err
	}
	_ = os.Remove(tmp.Name())
	committed = true
	return Blob{Filename: FilenameFor(version), Path: final, Size: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

// Open returns the image at path, refusing anything outside the storage dir.
func (s *Storage) Open(path string) (*os.File, error) {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: firmware image outside storage", os.ErrNotExist)
	}
	return os.Open(path)
}

// Remove deletes an image. A file that is already gone only warrants a warning.
func (s *Storage) Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("firmware file already missing", "path", path)
		return nil
	}
	return err
}
