package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/pelusa-v/duochat/internal/errs"
)

const (
	chunkPrefix = "chunk-"
	// PartialDir holds in-progress destination files inside the public dir.
	// Static serving must skip it.
	PartialDir    = ".partial"
	maxNameLength = 200
)

// Sanitize reduces a client supplied name to a single safe path segment.
// Directory components and parent references are stripped; an empty result
// is an InvalidName error.
func Sanitize(name string) (string, error) {
	n := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	n = path.Base(path.Clean("/" + n))
	n = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		case unicode.IsControl(r):
			return -1
		default:
			return '_'
		}
	}, n)
	n = strings.TrimLeft(n, ".")
	n = tailBytes(n, maxNameLength)
	if n == "" || strings.Trim(n, "_") == "" {
		return "", errs.Newf(errs.CodeInvalidName, "invalid file name %q", name)
	}
	return n, nil
}

// headBytes keeps at most max bytes from the start of s without splitting a rune.
func headBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// tailBytes keeps at most max bytes from the end of s without splitting a rune.
func tailBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// ChunkResult reports the state of a chunked upload after one chunk.
type ChunkResult struct {
	Index     int
	Completed bool
	Filename  string
	URL       string
}

// File describes a file placed in the public directory.
type File struct {
	Filename string
	URL      string
	Size     int64
}

type session struct {
	mu   sync.Mutex
	refs int
}

// Assembler stores chunks under scratchDir/<name>/chunk-<i> and concatenates
// them into publicDir/<name> once every index is present.
type Assembler struct {
	scratchDir string
	publicDir  string
	publicPath string
	log        *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates the scratch and public directories if missing. publicPath is
// the URL prefix the public directory is served under.
func New(scratchDir, publicDir, publicPath string, log *slog.Logger) (*Assembler, error) {
	if strings.TrimSpace(scratchDir) == "" || strings.TrimSpace(publicDir) == "" {
		return nil, errors.New("upload scratch and public directories are required")
	}
	if log == nil {
		log = slog.Default()
	}
	for _, d := range []string{scratchDir, publicDir, filepath.Join(publicDir, PartialDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}
	return &Assembler{
		scratchDir: scratchDir,
		publicDir:  publicDir,
		publicPath: strings.TrimSuffix(publicPath, "/"),
		log:        log,
		now:        time.Now,
		sessions:   map[string]*session{},
	}, nil
}

func (a *Assembler) acquire(name string) func() {
	a.mu.Lock()
	s, ok := a.sessions[name]
	if !ok {
		s = &session{}
		a.sessions[name] = s
	}
	s.refs++
	a.mu.Unlock()

	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		a.mu.Lock()
		s.refs--
		if s.refs == 0 {
			delete(a.sessions, name)
		}
		a.mu.Unlock()
	}
}

func (a *Assembler) busy(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[name]
	return ok
}

// URL returns the public URL of a stored file.
func (a *Assembler) URL(filename string) string {
	return a.publicPath + "/" + url.PathEscape(filename)
}

func chunkPath(dir string, index int) string {
	return filepath.Join(dir, chunkPrefix+strconv.Itoa(index))
}

// PutChunk persists chunk index of total for name. Once the last index is
// on disk and no index is missing, the chunks are merged and the result is
// Completed.
func (a *Assembler) PutChunk(name string, index, total int, r io.Reader) (ChunkResult, error) {
	clean, err := Sanitize(name)
	if err != nil {
		return ChunkResult{}, err
	}
	if total < 1 || index < 0 || index >= total {
		return ChunkResult{}, errs.Newf(errs.CodeInvalidInput, "chunk index %d out of range for total %d", index, total)
	}

	release := a.acquire(clean)
	defer release()

	dir := filepath.Join(a.scratchDir, clean)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ChunkResult{}, fmt.Errorf("create chunk dir: %w", err)
	}
	if err := writeAtomic(chunkPath(dir, index), r); err != nil {
		return ChunkResult{}, fmt.Errorf("write chunk %d: %w", index, err)
	}
	a.log.Debug("upload_chunk_stored", "name", clean, "index", index, "total", total)

	res := ChunkResult{Index: index}
	if !present(dir, total) {
		return res, nil
	}
	filename, err := a.merge(clean, total)
	if err != nil {
		return res, err
	}
	res.Completed = true
	res.Filename = filename
	res.URL = a.URL(filename)
	return res, nil
}

// Merge concatenates chunk-0..chunk-(total-1) of name into the public
// directory and removes the scratch directory. A missing chunk fails the
// upload; no destination file is left behind.
func (a *Assembler) Merge(name string, total int) (string, error) {
	clean, err := Sanitize(name)
	if err != nil {
		return "", err
	}
	if total < 1 {
		return "", errs.Newf(errs.CodeInvalidInput, "invalid chunk total %d", total)
	}
	release := a.acquire(clean)
	defer release()
	filename, err := a.merge(clean, total)
	if err != nil {
		return "", err
	}
	return a.URL(filename), nil
}

// present reports whether every chunk 0..total-1 exists, checking the
// designated last chunk first.
func present(dir string, total int) bool {
	for i := total - 1; i >= 0; i-- {
		if _, err := os.Stat(chunkPath(dir, i)); err != nil {
			return false
		}
	}
	return true
}

func (a *Assembler) merge(name string, total int) (string, error) {
	dir := filepath.Join(a.scratchDir, name)
	dest := filepath.Join(a.publicDir, name)

	tmp, err := os.CreateTemp(filepath.Join(a.publicDir, PartialDir), name+".*")
	if err != nil {
		return "", errs.MergeFailed("create destination", err)
	}
	fail := func(err error) (string, error) {
		tmp.Close()
		os.Remove(tmp.Name())
		// chunks already appended are gone; the client restarts the upload
		os.RemoveAll(dir)
		a.log.Warn("upload_merge_failed", "name", name, "total", total, "error", err)
		return "", errs.MergeFailed(fmt.Sprintf("merge %s", name), err)
	}

	var size int64
	for i := 0; i < total; i++ {
		p := chunkPath(dir, i)
		n, err := appendFile(tmp, p)
		if err != nil {
			return fail(fmt.Errorf("chunk %d: %w", i, err))
		}
		size += n
		if err := os.Remove(p); err != nil {
			return fail(fmt.Errorf("remove chunk %d: %w", i, err))
		}
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fail(err)
	}
	if err := os.Remove(dir); err != nil {
		a.log.Warn("upload_scratch_not_removed", "name", name, "error", err)
		_ = os.RemoveAll(dir)
	}
	a.log.Info("upload_merged", "name", name, "chunks", total, "bytes", size)
	return name, nil
}

func appendFile(dst *os.File, src string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(dst, f)
}

// Save stores a single-request upload under a unique name.
func (a *Assembler) Save(originalName string, r io.Reader) (File, error) {
	clean, err := Sanitize(originalName)
	if err != nil {
		clean = "file"
	}
	filename := fmt.Sprintf("%d-%s", a.now().UnixMilli(), clean)
	filename = headBytes(filename, maxNameLength)

	tmp, err := os.CreateTemp(filepath.Join(a.publicDir, PartialDir), "upload.*")
	if err != nil {
		return File{}, fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), filepath.Join(a.publicDir, filename))
	}
	if err != nil {
		os.Remove(tmp.Name())
		return File{}, fmt.Errorf("write upload: %w", err)
	}
	a.log.Info("upload_saved", "filename", filename, "bytes", n)
	return File{Filename: filename, URL: a.URL(filename), Size: n}, nil
}

// Reap removes upload sessions and partial files untouched for longer than
// olderThan. Sessions with a request in flight are skipped.
func (a *Assembler) Reap(olderThan time.Duration) (int, error) {
	cutoff := a.now().Add(-olderThan)
	removed := 0

	entries, err := os.ReadDir(a.scratchDir)
	if err != nil {
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if a.busy(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.scratchDir, e.Name())); err != nil {
			a.log.Warn("upload_reap_failed", "name", e.Name(), "error", err)
			continue
		}
		removed++
	}

	partial := filepath.Join(a.publicDir, PartialDir)
	if entries, err := os.ReadDir(partial); err == nil {
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if os.Remove(filepath.Join(partial, e.Name())) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		a.log.Info("upload_reaped", "removed", removed, "older_than", olderThan.String())
	}
	return removed, nil
}

func writeAtomic(dst string, r io.Reader) error {
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		os.Remove(tmp)
	}
	return err
}
