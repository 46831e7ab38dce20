package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

type alertDoc struct {
	Signature  string     `yaml:"signature"`
	LastSentAt *time.Time `yaml:"last_sent_at,omitempty"`
}

// Get reads <id>.alert. A missing or unreadable document means no record,
// which makes the next failure alert.
func (s *Store) Get(ctx context.Context, targetID string) (*repo.AlertRecord, error) {
	path := s.path(domain.TargetID(targetID), ".alert")
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	var doc alertDoc
	if err := yaml.Unmarshal(b, &doc); err != nil || doc.Signature == "" {
		return nil, nil
	}
	return &repo.AlertRecord{TargetID: targetID, LastSignature: doc.Signature, LastSentAt: doc.LastSentAt}, nil
}

func (s *Store) Set(ctx context.Context, targetID, signature string, sentAt time.Time) error {
	doc := alertDoc{Signature: signature}
	if !sentAt.IsZero() {
		ts := sentAt.UTC()
		doc.LastSentAt = &ts
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", targetID, err)
	}
	return writeAtomic(s.path(domain.TargetID(targetID), ".alert"), b)
}
