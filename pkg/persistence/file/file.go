// Package file provides file-based persistence for workflows, test cases, step tests and notifications.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

// Persistence implements persistence.Persistence on the file system. Every entity is
// one JSON document under <root>/<table>/<id>.json.
type Persistence struct {
	root string
	mu   sync.RWMutex

	workflows     table[models.Workflow]
	testCases     table[models.TestCase]
	stepTests     table[models.StepTest]
	notifications table[models.Notification]
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflows = table[models.Workflow]{dir: filepath.Join(cleanRoot, "workflows")}
	p.testCases = table[models.TestCase]{dir: filepath.Join(cleanRoot, "test_cases")}
	p.stepTests = table[models.StepTest]{dir: filepath.Join(cleanRoot, "step_tests")}
	p.notifications = table[models.Notification]{dir: filepath.Join(cleanRoot, "notifications")}

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &WorkflowRepository{p: fp}
}

func (fp *Persistence) TestCaseRepository() persistence.TestCaseRepository {
	return &TestCaseRepository{p: fp}
}

func (fp *Persistence) StepTestRepository() persistence.StepTestRepository {
	return &StepTestRepository{p: fp}
}

func (fp *Persistence) NotificationRepository() persistence.NotificationRepository {
	return &NotificationRepository{p: fp}
}

// table is a directory of JSON documents keyed by a numeric id, plus a sequence file
// holding the last id handed out. Callers hold the Persistence lock.
type table[T any] struct {
	dir string
}

func (t table[T]) path(id int64) string {
	return filepath.Join(t.dir, strconv.FormatInt(id, 10)+".json")
}

func (t table[T]) get(id int64) (*T, error) {
	body, err := os.ReadFile(t.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", t.path(id), err)
	}

	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", t.path(id), err)
	}

	return &v, nil
}

func (t table[T]) put(id int64, v *T) error {
	if err := os.MkdirAll(t.dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", t.dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", t.path(id), err)
	}

	return os.WriteFile(t.path(id), data, 0600)
}

func (t table[T]) exists(id int64) bool {
	_, err := os.Stat(t.path(id))

	return err == nil
}

func (t table[T]) remove(id int64) (bool, error) {
	err := os.Remove(t.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", t.path(id), err)
	}

	return true, nil
}

func (t table[T]) all() ([]T, error) {
	matches, err := filepath.Glob(filepath.Join(t.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.dir, err)
	}

	out := make([]T, 0, len(matches))

	for _, match := range matches {
		id, err := strconv.ParseInt(strings.TrimSuffix(filepath.Base(match), ".json"), 10, 64)
		if err != nil {
			continue
		}

		v, err := t.get(id)
		if err != nil {
			return nil, err
		}

		if v != nil {
			out = append(out, *v)
		}
	}

	return out, nil
}

func (t table[T]) nextID() (int64, error) {
	if err := os.MkdirAll(t.dir, 0750); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", t.dir, err)
	}

	seqPath := filepath.Join(t.dir, ".seq")

	var last int64

	body, err := os.ReadFile(seqPath)

	switch {
	case err == nil:
		last, err = strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt sequence %s: %w", seqPath, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return 0, fmt.Errorf("failed to read sequence %s: %w", seqPath, err)
	}

	last++

	if err := os.WriteFile(seqPath, []byte(strconv.FormatInt(last, 10)), 0600); err != nil {
		return 0, fmt.Errorf("failed to write sequence %s: %w", seqPath, err)
	}

	return last, nil
}
