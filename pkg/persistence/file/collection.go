package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/flowmedic/pkg/persistence"
)

var errDocumentNotFound = errors.New("document not found")

// collection stores one JSON document per ID under dir. All access to a
// collection goes through its mutex.
type collection[T any] struct {
	mu  sync.Mutex
	dir string
}

func newCollection[T any](root, name string) *collection[T] {
	return &collection[T]{dir: filepath.Join(root, name)}
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (c *collection[T]) path(id string) string {
	return filepath.Join(c.dir, id+".json")
}

func (c *collection[T]) exists(id string) bool {
	_, err := os.Stat(c.path(id))

	return err == nil
}

func (c *collection[T]) read(id string) (*T, error) {
	err := validateID(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(c.path(id)) // #nosec G304 -- id is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errDocumentNotFound
		}

		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}

	var doc T

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return &doc, nil
}

// write replaces the document atomically through a rename.
func (c *collection[T]) write(id string, doc *T) error {
	err := validateID(id)
	if err != nil {
		return err
	}

	err = os.MkdirAll(c.dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", c.dir, err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp := c.path(id) + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	err = os.Rename(tmp, c.path(id))
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", id, err)
	}

	return nil
}

func (c *collection[T]) all() ([]*T, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*T{}, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", c.dir, err)
	}

	docs := make([]*T, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		doc, err := c.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// Skip invalid files
			continue
		}

		docs = append(docs, doc)
	}

	return docs, nil
}
