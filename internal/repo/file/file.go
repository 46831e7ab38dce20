// Package file persists per-target state under one directory so cron runs
// can compare against the previous pass. Ticket counts are plain-text
// integers; alert records are small YAML documents.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id domain.TargetID, ext string) string {
	name := unsafeName.ReplaceAllString(string(id), "_")
	return filepath.Join(s.dir, name+ext)
}

// GetCount reads <id>.count. A missing file means no record; unparsable or
// negative contents read as 0.
func (s *Store) GetCount(ctx context.Context, id domain.TargetID) (*domain.CountState, error) {
	prev, found, err := readInt(s.path(id, ".count"))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	total, _, err := readInt(s.path(id, ".total"))
	if err != nil {
		return nil, err
	}
	st := &domain.CountState{TargetID: id, PreviousCount: prev, LifetimeTotal: total}
	if fi, err := os.Stat(s.path(id, ".count")); err == nil {
		st.UpdatedAt = fi.ModTime().UTC()
	}
	return st, nil
}

func (s *Store) PutCount(ctx context.Context, st domain.CountState) error {
	if st.PreviousCount < 0 {
		return fmt.Errorf("count for %s is negative: %d", st.TargetID, st.PreviousCount)
	}
	if err := writeInt(s.path(st.TargetID, ".count"), st.PreviousCount); err != nil {
		return err
	}
	return writeInt(s.path(st.TargetID, ".total"), st.LifetimeTotal)
}

func readInt(path string) (int, bool, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read %q: %w", path, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || n < 0 {
		return 0, true, nil
	}
	return n, true, nil
}

func writeInt(path string, n int) error {
	return writeAtomic(path, []byte(strconv.Itoa(n)))
}

func writeAtomic(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %q: %w", path, err)
	}
	return nil
}

var (
	_ repo.CountStore = (*Store)(nil)
	_ repo.AlertStore = (*Store)(nil)
)
