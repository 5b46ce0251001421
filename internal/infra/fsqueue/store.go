package fsqueue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ai-request-queue/internal/domain"
	"ai-request-queue/internal/domain/model"
	"ai-request-queue/internal/domain/ports/repository"
)

const recordExt = ".json"

var _ repository.QueueStore = (*Store)(nil)

// Store keeps records as <root>/queue/<state>/<id>.json.
type Store struct {
	base string
}

// New returns a store rooted at <root>/queue.
func New(root string) *Store {
	return &Store{base: filepath.Join(root, "queue")}
}

// Init creates the four state directories.
func (s *Store) Init() error {
	for _, st := range model.AllStates {
		if err := os.MkdirAll(s.Dir(st), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", st, err)
		}
	}
	return nil
}

func (s *Store) Base() string { return s.base }

func (s *Store) Dir(state model.QueueState) string {
	return filepath.Join(s.base, state.Dir())
}

func (s *Store) path(state model.QueueState, id string) string {
	return filepath.Join(s.Dir(state), id+recordExt)
}

// ValidateID rejects ids that cannot be used as a plain file stem.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: bad record id %q", domain.ErrInvalidArgument, id)
	}
	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: bad record id %q", domain.ErrInvalidArgument, id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, state model.QueueState) ([]model.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(s.Dir(state))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", state, err)
	}
	out := make([]model.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Stat by another agent.
			continue
		}
		out = append(out, model.Entry{
			ID:      strings.TrimSuffix(name, recordExt),
			State:   state,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return out, nil
}

func (s *Store) Read(ctx context.Context, state model.QueueState, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(state, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read %s/%s: %w", state, id, err)
	}
	return b, nil
}

// Write stages the content in a dotfile and links it into place, so readers
// never observe a partial record.
func (s *Store) Write(ctx context.Context, state model.QueueState, id string, data []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	dir := s.Dir(state)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", state, err)
	}
	tmp, err := os.CreateTemp(dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("stage %s/%s: %w", state, id, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s/%s: %w", state, id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s/%s: %w", state, id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s/%s: %w", state, id, err)
	}
	// Link fails if the target exists, unlike Rename.
	if err := os.Link(tmpName, s.path(state, id)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("publish %s/%s: %w", state, id, err)
	}
	return nil
}

// Move never replaces a record already present in the target state.
func (s *Store) Move(ctx context.Context, id string, from, to model.QueueState) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir(to), 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", to, err)
	}
	err := renameNoReplace(s.path(from, id), s.path(to, id))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return domain.ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("move %s %s->%s: %w", id, from, to, domain.ErrAlreadyExists)
	}
	return fmt.Errorf("move %s %s->%s: %w", id, from, to, err)
}

// linkMove publishes src at dst without replacing an existing dst, then
// unlinks src. If src vanished meanwhile another agent moved it too, so the
// extra link is withdrawn and the move reports not found.
func linkMove(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

func (s *Store) Touch(ctx context.Context, state model.QueueState, id string, at time.Time) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.Chtimes(s.path(state, id), at, at); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("touch %s/%s: %w", state, id, err)
	}
	return nil
}

// Count differs from List on a missing directory: the count is unknown, not zero.
func (s *Store) Count(ctx context.Context, state model.QueueState) (int, error) {
	if _, err := os.Stat(s.Dir(state)); err != nil {
		return 0, fmt.Errorf("count %s: %w", state, err)
	}
	entries, err := s.List(ctx, state)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}
