package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dramaforge/internal/logging"
	"dramaforge/internal/services"
)

// SchemaVersion is written on every checkpoint. Records with any other version
// are rejected on load.
const SchemaVersion = "2"

// DefaultKeep bounds how many checkpoints are retained per project.
const DefaultKeep = 10

const (
	checkpointPrefix = "checkpoint/"
	latestPrefix     = "latest/"
)

// Reason records why a checkpoint was taken.
type Reason string

const (
	ReasonStageStart    Reason = "stage_start"
	ReasonProgress      Reason = "progress"
	ReasonInterval      Reason = "interval"
	ReasonStageComplete Reason = "stage_complete"
	ReasonStageSkipped  Reason = "stage_skipped"
	ReasonSkipRequested Reason = "skip_requested"
	ReasonStageFailed   Reason = "stage_failed"
	ReasonPaused        Reason = "paused"
	ReasonCancelled     Reason = "cancelled"
	ReasonCompleted     Reason = "completed"
)

// Checkpoint is one snapshot of a project's progress. Data holds the
// serialized project; its contents are opaque to this package.
type Checkpoint struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	StageID       string          `json:"stage_id"`
	StageIndex    int             `json:"stage_index"`
	Progress      float64         `json:"progress"`
	Reason        Reason          `json:"reason,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version"`
}

// Backend is the durable key/value store beneath a Store. List returns keys
// with the given prefix in ascending order.
type Backend interface {
	Put(ctx context.Context, key string, blob []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Options configures a Store.
type Options struct {
	// Keep is the per-project retention; zero selects DefaultKeep and a
	// negative value disables pruning.
	Keep   int
	Logger *slog.Logger
	Now    func() time.Time
	// OnOperation observes every save, load, and prune; used for metrics.
	OnOperation func(op string, err error)
}

// Store saves and loads checkpoints through a Backend. It is safe for
// concurrent use by multiple projects.
type Store struct {
	backend Backend
	keep    int
	logger  *slog.Logger
	now     func() time.Time
	observe func(string, error)

	locks sync.Map // project id -> *sync.Mutex
}

// NewStore wraps backend.
func NewStore(backend Backend, opts Options) *Store {
	s := &Store{
		backend: backend,
		keep:    opts.Keep,
		logger:  logging.NewComponentLogger(opts.Logger, "checkpoint"),
		now:     opts.Now,
		observe: opts.OnOperation,
	}
	if s.keep == 0 {
		s.keep = DefaultKeep
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ValidateProjectID rejects ids that cannot be used as a key segment.
func ValidateProjectID(projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return services.Wrap(services.ErrValidation, "checkpoint", "validate", "project id is required", nil)
	}
	if strings.ContainsAny(projectID, `/\`) || strings.Contains(projectID, "..") {
		return services.Wrap(services.ErrValidation, "checkpoint", "validate",
			fmt.Sprintf("project id %q contains path separators", projectID), nil)
	}
	return nil
}

// Save assigns an id, timestamp, and schema version when absent, writes the
// checkpoint, advances the latest pointer, and prunes old history.
func (s *Store) Save(ctx context.Context, cp Checkpoint) (saved Checkpoint, err error) {
	defer func() { s.record("save", err) }()

	if err := ValidateProjectID(cp.ProjectID); err != nil {
		return Checkpoint{}, err
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = s.now().UTC()
	}
	if cp.SchemaVersion == "" {
		cp.SchemaVersion = SchemaVersion
	}

	lock := s.projectLock(cp.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	current, ok, err := s.backend.Get(ctx, latestPrefix+cp.ProjectID)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read latest pointer: %w", err)
	}
	if cp.ID == "" {
		// Stamps strictly increase per project, so saves that share a clock
		// reading still sort in the order they were made.
		stamp := cp.Timestamp.UnixNano()
		if prev, ok := idStamp(string(current)); ok && stamp <= prev {
			stamp = prev + 1
		}
		cp.ID = newID(cp.ProjectID, stamp)
	}

	blob, err := json.Marshal(cp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.backend.Put(ctx, checkpointPrefix+cp.ID, blob); err != nil {
		return Checkpoint{}, fmt.Errorf("write checkpoint %s: %w", cp.ID, err)
	}

	// Caller-supplied ids may be older than the pointer; those never regress it.
	if !ok || string(current) < cp.ID {
		if err := s.backend.Put(ctx, latestPrefix+cp.ProjectID, []byte(cp.ID)); err != nil {
			return Checkpoint{}, fmt.Errorf("write latest pointer: %w", err)
		}
	}

	if s.keep > 0 {
		if _, err := s.pruneLocked(ctx, cp.ProjectID, s.keep); err != nil {
			s.logger.Warn("checkpoint prune failed",
				logging.String(logging.FieldEventType, "checkpoint_prune_failed"),
				logging.String(logging.FieldErrorHint, "inspect checkpoint backend permissions"),
				logging.String(logging.FieldProjectID, cp.ProjectID),
				logging.Error(err))
		}
	}
	return cp, nil
}

// LoadLatest returns the most recent checkpoint for projectID.
func (s *Store) LoadLatest(ctx context.Context, projectID string) (cp Checkpoint, found bool, err error) {
	defer func() { s.record("load", err) }()

	if err := ValidateProjectID(projectID); err != nil {
		return Checkpoint{}, false, err
	}
	pointer, ok, err := s.backend.Get(ctx, latestPrefix+projectID)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read latest pointer: %w", err)
	}
	if !ok {
		return Checkpoint{}, false, nil
	}
	cp, ok, err = s.load(ctx, string(pointer))
	if err != nil || ok {
		return cp, ok, err
	}

	// The pointer outlived its target; fall back to the newest surviving record.
	all, err := s.List(ctx, projectID)
	if err != nil || len(all) == 0 {
		return Checkpoint{}, false, err
	}
	return all[len(all)-1], true, nil
}

// Get loads a checkpoint by id.
func (s *Store) Get(ctx context.Context, id string) (Checkpoint, bool, error) {
	return s.load(ctx, id)
}

func (s *Store) load(ctx context.Context, id string) (Checkpoint, bool, error) {
	blob, ok, err := s.backend.Get(ctx, checkpointPrefix+id)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint %s: %w", id, err)
	}
	if !ok {
		return Checkpoint{}, false, nil
	}
	cp, err := decode(blob)
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

func decode(blob []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(blob, &cp); err != nil {
		return Checkpoint{}, services.Wrap(services.ErrValidation, "checkpoint", "decode", "corrupt checkpoint record", err)
	}
	if cp.SchemaVersion != SchemaVersion {
		return Checkpoint{}, services.Wrap(services.ErrValidation, "checkpoint", "decode",
			fmt.Sprintf("unsupported schema version %q (want %q)", cp.SchemaVersion, SchemaVersion), nil)
	}
	return cp, nil
}

// List returns every checkpoint for projectID, oldest first.
func (s *Store) List(ctx context.Context, projectID string) ([]Checkpoint, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	keys, err := s.backend.List(ctx, checkpointPrefix+projectID+"/")
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	sort.Strings(keys)
	out := make([]Checkpoint, 0, len(keys))
	for _, key := range keys {
		cp, ok, err := s.load(ctx, strings.TrimPrefix(key, checkpointPrefix))
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint",
				logging.String(logging.FieldEventType, "checkpoint_decode_failed"),
				logging.String(logging.FieldErrorHint, "delete the checkpoint or the project history"),
				logging.String("key", key),
				logging.Error(err))
			continue
		}
		if ok {
			out = append(out, cp)
		}
	}
	return out, nil
}

// Projects returns the ids of every project with a latest pointer.
func (s *Store) Projects(ctx context.Context) ([]string, error) {
	keys, err := s.backend.List(ctx, latestPrefix)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, latestPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes one checkpoint. When it was the latest, the pointer moves to
// the newest remaining checkpoint or is removed.
func (s *Store) Delete(ctx context.Context, id string) error {
	projectID, _, ok := strings.Cut(id, "/")
	if !ok {
		return services.Wrap(services.ErrValidation, "checkpoint", "delete", fmt.Sprintf("malformed checkpoint id %q", id), nil)
	}
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.backend.Delete(ctx, checkpointPrefix+id); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	pointer, ok, err := s.backend.Get(ctx, latestPrefix+projectID)
	if err != nil || !ok || string(pointer) != id {
		return err
	}
	return s.repointLocked(ctx, projectID)
}

// DeleteProject removes all history for projectID and returns the number of
// checkpoints deleted.
func (s *Store) DeleteProject(ctx context.Context, projectID string) (int, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return 0, err
	}
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	keys, err := s.backend.List(ctx, checkpointPrefix+projectID+"/")
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}
	for _, key := range keys {
		if err := s.backend.Delete(ctx, key); err != nil {
			return 0, fmt.Errorf("delete %s: %w", key, err)
		}
	}
	if err := s.backend.Delete(ctx, latestPrefix+projectID); err != nil {
		return len(keys), fmt.Errorf("delete latest pointer: %w", err)
	}
	return len(keys), nil
}

// Prune keeps the newest keep checkpoints for projectID and returns how many
// were removed. The latest checkpoint is never removed.
func (s *Store) Prune(ctx context.Context, projectID string, keep int) (removed int, err error) {
	defer func() { s.record("prune", err) }()
	if err := ValidateProjectID(projectID); err != nil {
		return 0, err
	}
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()
	return s.pruneLocked(ctx, projectID, keep)
}

func (s *Store) pruneLocked(ctx context.Context, projectID string, keep int) (int, error) {
	keep = max(keep, 1)
	keys, err := s.backend.List(ctx, checkpointPrefix+projectID+"/")
	if err != nil {
		return 0, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(keys) <= keep {
		return 0, nil
	}
	sort.Strings(keys)
	pointer, _, err := s.backend.Get(ctx, latestPrefix+projectID)
	if err != nil {
		return 0, fmt.Errorf("read latest pointer: %w", err)
	}
	removed := 0
	for _, key := range keys[:len(keys)-keep] {
		if strings.TrimPrefix(key, checkpointPrefix) == string(pointer) {
			continue
		}
		if err := s.backend.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("delete %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) repointLocked(ctx context.Context, projectID string) error {
	keys, err := s.backend.List(ctx, checkpointPrefix+projectID+"/")
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if len(keys) == 0 {
		return s.backend.Delete(ctx, latestPrefix+projectID)
	}
	sort.Strings(keys)
	newest := strings.TrimPrefix(keys[len(keys)-1], checkpointPrefix)
	return s.backend.Put(ctx, latestPrefix+projectID, []byte(newest))
}

func (s *Store) projectLock(projectID string) *sync.Mutex {
	lock, _ := s.locks.LoadOrStore(projectID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *Store) record(op string, err error) {
	if s.observe != nil {
		s.observe(op, err)
	}
}

// newID produces "<project>/<zero-padded stamp>-<8 hex>" so lexical order
// matches stamp order.
func newID(projectID string, stamp int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s/%020d-%s", projectID, stamp, suffix)
}

// idStamp extracts the stamp newID encoded into id.
func idStamp(id string) (int64, bool) {
	_, rest, ok := strings.Cut(id, "/")
	if !ok {
		return 0, false
	}
	digits, _, _ := strings.Cut(rest, "-")
	stamp, err := strconv.ParseInt(digits, 10, 64)
	return stamp, err == nil
}
