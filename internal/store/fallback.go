package store

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// FallbackLog is the local write path used while the primary backend is
// unreachable: an append-only file holding one JSON issue per line. An
// update appends a fresh full record under the same ID; readers keep the
// last record seen per ID, so the file never needs rewriting and
// concurrent appenders from separate processes stay safe under O_APPEND.
type FallbackLog struct {
	path       string
	projectTag string
}

// NewFallbackLog returns a fallback log writing to path. projectTag
// prefixes generated identifiers after sanitization.
func NewFallbackLog(path, projectTag string) *FallbackLog {
	return &FallbackLog{path: path, projectTag: SanitizeTag(projectTag)}
}

// newID hashes the record body, the current time, and a random nonce,
// truncated to twelve hex digits. Collision probability stays negligible
// under concurrent fallback writers because of the nonce.
func (f *FallbackLog) newID(body string) string {
	h := sha256.New()
	h.Write([]byte(body))
	h.Write([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(uuid.NewString()))
	return f.projectTag + "-" + hex.EncodeToString(h.Sum(nil))[:12]
}

func (f *FallbackLog) Create(ctx context.Context, iss Issue) (string, error) {
	if iss.ID == "" {
		iss.ID = f.newID(iss.Body)
	}
	if err := f.append(iss); err != nil {
		return "", err
	}
	return iss.ID, nil
}

func (f *FallbackLog) Update(ctx context.Context, id string, mut Mutation) error {
	iss, err := f.Get(ctx, id)
	if err != nil {
		return err
	}
	if mut.Title != nil {
		iss.Title = *mut.Title
	}
	if mut.Body != nil {
		iss.Body = *mut.Body
	}
	if mut.Labels != nil {
		iss.Labels = mut.Labels
	}
	iss.UpdatedAt = time.Now().UTC()
	if mut.UpdatedAt != nil {
		iss.UpdatedAt = mut.UpdatedAt.UTC()
	}
	return f.append(*iss)
}

func (f *FallbackLog) Get(ctx context.Context, id string) (*Issue, error) {
	byID, err := f.scan()
	if err != nil {
		return nil, err
	}
	iss, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &iss, nil
}

func (f *FallbackLog) List(ctx context.Context, filter LabelFilter) ([]Issue, error) {
	byID, err := f.scan()
	if err != nil {
		return nil, err
	}
	var issues []Issue
	for _, iss := range byID {
		if filter.Matches(iss.Labels) {
			issues = append(issues, iss)
		}
	}
	return issues, nil
}

func (f *FallbackLog) Close() error { return nil }

func (f *FallbackLog) append(iss Issue) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create fallback dir: %w", err)
	}
	line, err := json.Marshal(iss)
	if err != nil {
		return fmt.Errorf("encode fallback record: %w", err)
	}

	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open fallback log: %w", err)
	}
	defer fh.Close()
	if _, err := fh.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append fallback record: %w", err)
	}
	return nil
}

// scan reads the whole log, keeping the last record per ID.
func (f *FallbackLog) scan() (map[string]Issue, error) {
	byID := make(map[string]Issue)

	fh, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return byID, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open fallback log: %w", err)
	}
	defer fh.Close()

	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var iss Issue
		if err := json.Unmarshal(line, &iss); err != nil {
			// a crash mid-append can leave a torn trailing line; one bad
			// record must not take down reads of the rest
			log.Warn("skipping undecodable fallback record", "err", err)
			continue
		}
		byID[iss.ID] = iss
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan fallback log: %w", err)
	}
	return byID, nil
}
