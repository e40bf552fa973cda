package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"taskbot/internal/task"
	logx "taskbot/pkg/logx"
)

const compactEvery = 500

// fileStore keeps everything in memory behind one mutex. With a path it is
// durable:
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//   - <prefix>.snapshot.json  (events + recurring runs, periodic)
//   - <prefix>.journal.jsonl  (append-only change journal)
//
// The journal is compacted into the snapshot every compactEvery writes.
// Without a path (NewMemory) nothing is written to disk.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	events  map[int64]task.Event
	runs    map[string]time.Time
	audit   []task.AuditEntry
	eventID int64
	auditID int64

	auditFile    *os.File
	snapshotPath string
	journalFile  *os.File
	writes       int
}

type fileSnapshot struct {
	EventSeq int64                `json:"event_seq"`
	Events   []task.Event         `json:"events"`
	Runs     map[string]time.Time `json:"runs"`
}

type journalRecord struct {
	Event *task.Event `json:"event,omitempty"`
	Run   string      `json:"run,omitempty"`
	At    time.Time   `json:"at,omitempty"`
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &fileStore{
		log:    logx.Nop(),
		events: map[int64]task.Event{},
		runs:   map[string]time.Time{},
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	s := &fileStore{
		log:          log,
		events:       map[int64]task.Event{},
		runs:         map[string]time.Time{},
		snapshotPath: snapPath,
	}
	if err := s.loadSnapshot(snapPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	if err := s.loadAudit(auditPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load audit: %w", err)
	}

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	s.auditFile = af
	s.journalFile = jf
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("events", len(s.events)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("final compact failed", logx.Err(err))
		}
		err1 = s.journalFile.Close()
		s.journalFile = nil
	}
	if s.auditFile != nil {
		err2 = s.auditFile.Close()
		s.auditFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) CreateEvent(ctx context.Context, ev task.Event) (task.Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Status == "" {
		ev.Status = task.StatusPending
	}
	s.eventID++
	ev.ID = s.eventID
	if ev.Status == task.StatusPending && ev.JobKey == "" {
		ev.JobKey = task.EventJobKey(ev.ID)
	}
	ev = normalizeEvent(ev)
	s.events[ev.ID] = ev
	if err := s.journalLocked(journalRecord{Event: &ev}); err != nil {
		return task.Event{}, err
	}
	return ev, nil
}

func (s *fileStore) GetEvent(ctx context.Context, id int64) (task.Event, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return task.Event{}, fmt.Errorf("%w: event %d", task.ErrNotFound, id)
	}
	return ev, nil
}

func (s *fileStore) UpdateEvent(ctx context.Context, ev task.Event) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[ev.ID]
	if !ok {
		return fmt.Errorf("%w: event %d", task.ErrNotFound, ev.ID)
	}
	ev.CreatedAt = cur.CreatedAt
	ev = normalizeEvent(ev)
	s.events[ev.ID] = ev
	return s.journalLocked(journalRecord{Event: &ev})
}

func (s *fileStore) ListEvents(ctx context.Context, q EventQuery) ([]task.Event, error) {
	_ = ctx
	s.mu.Lock()
	out := make([]task.Event, 0, len(s.events))
	for _, ev := range s.events {
		if matchStatus(ev.Status, q.Statuses) {
			out = append(out, ev)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch q.Order {
		case OrderResolvedDesc:
			if ra, rb := ResolvedAt(a), ResolvedAt(b); !ra.Equal(rb) {
				return ra.After(rb)
			}
		case OrderScheduledDesc:
			if !a.ScheduledTime.Equal(b.ScheduledTime) {
				return a.ScheduledTime.After(b.ScheduledTime)
			}
		default:
			if !a.ScheduledTime.Equal(b.ScheduledTime) {
				return a.ScheduledTime.Before(b.ScheduledTime)
			}
		}
		return a.ID < b.ID
	})

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *fileStore) CountEvents(ctx context.Context, statuses ...task.Status) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if matchStatus(ev.Status, statuses) {
			n++
		}
	}
	return n, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e task.AuditEntry) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now()
	}
	e.ExecutedAt = task.UTC(e.ExecutedAt)
	if e.ScheduledTime != nil {
		st := task.UTC(*e.ScheduledTime)
		e.ScheduledTime = &st
	}
	s.auditID++
	e.ID = s.auditID
	if s.auditFile != nil {
		if err := json.NewEncoder(s.auditFile).Encode(e); err != nil {
			s.auditID--
			return 0, err
		}
	}
	s.audit = append(s.audit, e)
	return e.ID, nil
}

func (s *fileStore) ListAudit(ctx context.Context, limit int) ([]task.AuditEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.audit)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]task.AuditEntry, 0, n)
	for i := len(s.audit) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

func (s *fileStore) GetLastRun(ctx context.Context, name string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.runs[name]
	return at, ok, nil
}

func (s *fileStore) PutLastRun(ctx context.Context, name string, at time.Time) error {
	_ = ctx
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	at = task.UTC(at)
	s.runs[name] = at
	return s.journalLocked(journalRecord{Run: name, At: at})
}

func (s *fileStore) journalLocked(r journalRecord) error {
	if s.journalFile == nil {
		return nil
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	if s.snapshotPath == "" || s.journalFile == nil {
		return nil
	}
	snap := fileSnapshot{EventSeq: s.eventID, Runs: s.runs}
	for _, ev := range s.events {
		snap.Events = append(snap.Events, ev)
	}
	sort.Slice(snap.Events, func(i, j int) bool { return snap.Events[i].ID < snap.Events[j].ID })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	s.eventID = snap.EventSeq
	for _, ev := range snap.Events {
		s.events[ev.ID] = normalizeEvent(ev)
	}
	for k, v := range snap.Runs {
		s.runs[k] = v.UTC()
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// torn tail write
			continue
		}
		switch {
		case r.Event != nil:
			ev := normalizeEvent(*r.Event)
			s.events[ev.ID] = ev
			if ev.ID > s.eventID {
				s.eventID = ev.ID
			}
		case r.Run != "":
			s.runs[r.Run] = r.At.UTC()
		}
	}
	return sc.Err()
}

func (s *fileStore) loadAudit(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e task.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		s.audit = append(s.audit, e)
		if e.ID > s.auditID {
			s.auditID = e.ID
		}
	}
	return sc.Err()
}

func normalizeEvent(ev task.Event) task.Event {
	ev.ScheduledTime = task.UTC(ev.ScheduledTime)
	ev.CreatedAt = task.UTC(ev.CreatedAt)
	if ev.UpdatedAt != nil {
		t := task.UTC(*ev.UpdatedAt)
		ev.UpdatedAt = &t
	}
	if ev.ExecutedAt != nil {
		t := task.UTC(*ev.ExecutedAt)
		ev.ExecutedAt = &t
	}
	return ev
}

func matchStatus(st task.Status, want []task.Status) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if st == w {
			return true
		}
	}
	return false
}
