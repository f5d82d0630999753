// Package pool implements the Media Pool: allocation policy and
// inventory state for a named set of tapes. It decides which media-set
// is currently being written to and which physical tape within that set
// should receive the next write.
package pool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the persistent state of one piece of media.
type Status int

const (
	StatusUnknown Status = iota
	StatusWritable
	StatusFull
	StatusDamaged
)

// MediaID identifies a single tape: its own uuid, the human label text
// written to file 0, and the pool it was last allocated to. A freshly
// labelled tape has no SetLabel until it is first assigned to a set.
type MediaID struct {
	UUID      uuid.UUID
	LabelText string
	PoolName  string
	SetLabel  *SetLabel
}

// SetLabel identifies a tape's membership in a media set: which set,
// at what position, and (if the set is encrypted) under which key.
type SetLabel struct {
	UUID                   uuid.UUID
	SeqNr                  int
	EncryptionKeyFingerprint string
}

// Media is one tape's full inventory record.
type Media struct {
	ID     MediaID
	Status Status
}

// AllocationPolicy decides whether the active media-set should be
// extended or sealed and a new one started. now is the time
// start_write_session is evaluated at; lastSetCreated is when the
// currently active set was created (zero if none exists).
type AllocationPolicy interface {
	// ShouldStartNewSet reports whether a new media-set should replace
	// the currently active one, and if so, a human-readable reason.
	ShouldStartNewSet(now, lastSetCreated time.Time, activeSetFull bool) (bool, string)
}

// AllocationPolicyFunc adapts a function to AllocationPolicy.
type AllocationPolicyFunc func(now, lastSetCreated time.Time, activeSetFull bool) (bool, string)

func (f AllocationPolicyFunc) ShouldStartNewSet(now, lastSetCreated time.Time, activeSetFull bool) (bool, string) {
	return f(now, lastSetCreated, activeSetFull)
}

// AlwaysNewSet starts a fresh media-set on every write session.
var AlwaysNewSet = AllocationPolicyFunc(func(_, _ time.Time, _ bool) (bool, string) {
	return true, "allocation policy is always"
})

// NeverNewSet never seals on its own account — only a full active tape
// forces a new set.
var NeverNewSet = AllocationPolicyFunc(func(_, _ time.Time, activeSetFull bool) (bool, string) {
	if activeSetFull {
		return true, "active media set is full"
	}
	return false, ""
})

// CalendarPolicy seals the active set once lastSetCreated is further
// in the past than Interval.
type CalendarPolicy struct {
	Interval time.Duration
}

func (p CalendarPolicy) ShouldStartNewSet(now, lastSetCreated time.Time, activeSetFull bool) (bool, string) {
	if activeSetFull {
		return true, "active media set is full"
	}
	if lastSetCreated.IsZero() {
		return true, "no active media set"
	}
	if now.Sub(lastSetCreated) >= p.Interval {
		return true, fmt.Sprintf("media set age %s exceeds allocation interval %s", now.Sub(lastSetCreated), p.Interval)
	}
	return false, ""
}

var (
	ErrRetentionBlocksAllocation = fmt.Errorf("pool: no usable media available under the retention policy")
	ErrDenseSeqViolation         = fmt.Errorf("pool: media set seq_nr would not be dense")
)

// RetentionPolicy decides whether media last used at lastWritten may be
// reused (overwritten) by a new media-set.
type RetentionPolicy interface {
	Reusable(now, lastWritten time.Time) bool
}

// RetentionPolicyFunc adapts a function to RetentionPolicy.
type RetentionPolicyFunc func(now, lastWritten time.Time) bool

func (f RetentionPolicyFunc) Reusable(now, lastWritten time.Time) bool { return f(now, lastWritten) }

// KeepForever never allows reuse of previously written media (they are
// always excluded from allocation once written).
var KeepForever = RetentionPolicyFunc(func(_, _ time.Time) bool { return false })

// OverwriteAfter allows reuse once Age has elapsed since lastWritten.
type OverwriteAfter struct{ Age time.Duration }

func (p OverwriteAfter) Reusable(now, lastWritten time.Time) bool {
	return now.Sub(lastWritten) >= p.Age
}

// Config describes one named pool.
type Config struct {
	Name                   string
	Allocation             AllocationPolicy
	Retention              RetentionPolicy
	EncryptionKeyFingerprint string
}

// Set is the in-memory model of one media-set: an ordered list of media
// uuids, dense by seq_nr, and whether it has been sealed (no more
// writes permitted).
type Set struct {
	UUID    uuid.UUID
	Created time.Time
	Sealed  bool
	Members []uuid.UUID // index == seq_nr
}

// Pool tracks allocation state and media inventory for one named pool.
type Pool struct {
	cfg Config

	mu        sync.Mutex
	media     map[uuid.UUID]*Media
	lastWritten map[uuid.UUID]time.Time
	sets      []*Set // chronological; sets[len-1] is the active one if unsealed
	loaded    uuid.UUID
	hasLoaded bool
}

// New creates a Pool from cfg with no inventory yet. Media are added
// with AddMedia.
func New(cfg Config) *Pool {
	if cfg.Allocation == nil {
		cfg.Allocation = NeverNewSet
	}
	if cfg.Retention == nil {
		cfg.Retention = KeepForever
	}
	return &Pool{
		cfg:         cfg,
		media:       make(map[uuid.UUID]*Media),
		lastWritten: make(map[uuid.UUID]time.Time),
	}
}

// AddMedia registers a tape as available inventory for this pool.
func (p *Pool) AddMedia(id MediaID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.media[id.UUID] = &Media{ID: id, Status: StatusWritable}
}

// SetMediaStatusFull marks media permanently unwritable for the
// remainder of its membership in the current set.
func (p *Pool) SetMediaStatusFull(id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.media[id]
	if !ok {
		return fmt.Errorf("pool: unknown media %s", id)
	}
	m.Status = StatusFull
	if len(p.sets) > 0 {
		active := p.sets[len(p.sets)-1]
		if !active.Sealed && len(active.Members) > 0 && active.Members[len(active.Members)-1] == id {
			active.Sealed = true
		}
	}
	return nil
}

// SetMediaStatusDamaged marks media unusable; it is skipped by future
// allocation and excluded from the active set's writable tail.
func (p *Pool) SetMediaStatusDamaged(id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.media[id]
	if !ok {
		return fmt.Errorf("pool: unknown media %s", id)
	}
	m.Status = StatusDamaged
	return nil
}

// StartWriteSession decides, per the pool's allocation policy, whether
// to begin a new media-set. Returns the (possibly just-created) active
// set's uuid and, if a new set was started, a human-readable reason.
func (p *Pool) StartWriteSession(now time.Time) (uuid.UUID, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastCreated time.Time
	activeFull := false
	if len(p.sets) > 0 {
		active := p.sets[len(p.sets)-1]
		lastCreated = active.Created
		activeFull = active.Sealed
	}

	startNew, reason := p.cfg.Allocation.ShouldStartNewSet(now, lastCreated, activeFull)
	if !startNew && len(p.sets) > 0 {
		return p.sets[len(p.sets)-1].UUID, "", nil
	}

	if reason == "" {
		reason = "no active media set"
	}
	newSet := &Set{UUID: uuid.New(), Created: now}
	p.sets = append(p.sets, newSet)
	return newSet.UUID, reason, nil
}

// AllocWritableMedia picks the media to write to next: the currently
// loaded tape if it belongs to the active set and is still writable;
// otherwise the first still-writable member of the active set;
// otherwise the oldest reusable tape permitted by the retention policy,
// appended to the active set at the next dense seq_nr.
func (p *Pool) AllocWritableMedia(now time.Time) (uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sets) == 0 {
		return uuid.UUID{}, fmt.Errorf("pool: no active media set, call StartWriteSession first")
	}
	active := p.sets[len(p.sets)-1]

	if p.hasLoaded {
		if m, ok := p.media[p.loaded]; ok && m.Status == StatusWritable && inSet(active, p.loaded) {
			return p.loaded, nil
		}
	}

	for _, seq := range active.Members {
		if m := p.media[seq]; m != nil && m.Status == StatusWritable {
			p.loaded, p.hasLoaded = seq, true
			return seq, nil
		}
	}

	candidate, err := p.pickCandidateLocked(now)
	if err != nil {
		return uuid.UUID{}, err
	}

	wantSeq := len(active.Members)
	if len(active.Members) != wantSeq {
		return uuid.UUID{}, ErrDenseSeqViolation
	}
	active.Members = append(active.Members, candidate)
	m := p.media[candidate]
	m.ID.SetLabel = &SetLabel{UUID: active.UUID, SeqNr: wantSeq, EncryptionKeyFingerprint: p.cfg.EncryptionKeyFingerprint}
	p.loaded, p.hasLoaded = candidate, true
	return candidate, nil
}

func inSet(s *Set, id uuid.UUID) bool {
	for _, m := range s.Members {
		if m == id {
			return true
		}
	}
	return false
}

// pickCandidateLocked selects the oldest usable, writable tape not
// already a member of the active set, skipping damaged or full media and
// media the retention policy forbids reusing yet.
func (p *Pool) pickCandidateLocked(now time.Time) (uuid.UUID, error) {
	var candidates []*Media
	for _, m := range p.media {
		if m.Status != StatusWritable {
			continue
		}
		if m.ID.SetLabel != nil {
			if last, ok := p.lastWritten[m.ID.UUID]; ok && !p.cfg.Retention.Reusable(now, last) {
				continue
			}
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return uuid.UUID{}, ErrRetentionBlocksAllocation
	}
	sort.Slice(candidates, func(i, j int) bool {
		ti := p.lastWritten[candidates[i].ID.UUID]
		tj := p.lastWritten[candidates[j].ID.UUID]
		return ti.Before(tj)
	})
	return candidates[0].ID.UUID, nil
}

// CurrentMediaSet returns the active (most recent) media-set's uuid and
// ordered member list.
func (p *Pool) CurrentMediaSet() (uuid.UUID, []uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sets) == 0 {
		return uuid.UUID{}, nil, fmt.Errorf("pool: no active media set")
	}
	active := p.sets[len(p.sets)-1]
	members := make([]uuid.UUID, len(active.Members))
	copy(members, active.Members)
	return active.UUID, members, nil
}

// CurrentMediaList is an alias for the member list of CurrentMediaSet.
func (p *Pool) CurrentMediaList() ([]uuid.UUID, error) {
	_, members, err := p.CurrentMediaSet()
	return members, err
}

// MarkWritten records that id was just written to, for retention-policy
// reuse decisions.
func (p *Pool) MarkWritten(id uuid.UUID, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastWritten[id] = at
}

// ErrUnknownMedia is returned by LookupMedia for a uuid not in this
// pool's inventory.
var ErrUnknownMedia = fmt.Errorf("pool: unknown media")

// LookupMedia returns the full inventory record for id, including its
// SetLabel once AllocWritableMedia has assigned it to the active set.
func (p *Pool) LookupMedia(id uuid.UUID) (MediaID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.media[id]
	if !ok {
		return MediaID{}, ErrUnknownMedia
	}
	return m.ID, nil
}
