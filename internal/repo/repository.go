package repo

import (
	"context"
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

type repoState int

const (
	stateClean repoState = iota
	stateDirty
	stateCheckNeeded
)

// Repository is the local, on-disk implementation of Backend: a
// transactional, content-addressed object store built on a segment log
// and a flat key index, per spec.md §4.
//
// Its concurrency model mirrors the teacher's single-writer Log: one
// mutex serializes every operation. Object repositories are not used as
// high-throughput databases, they back sequential backup runs, so this
// is the right tradeoff over finer-grained locking.
type Repository struct {
	root string
	dir  layout
	cfg  Config

	mu    sync.Mutex
	state repoState

	lock  *repoLock
	log   *log
	index map[Key]Location

	pendingPuts    map[Key]Location
	pendingDeletes map[Key]struct{}
	txActive       bool
	txStartSegment uint32
	txStartOffset  uint32

	currentIndexFile uint32
	haveIndexFile    bool

	cache *lru.Cache

	logger zerolog.Logger
}

// NewRepository prepares a Repository rooted at root. Open must be called
// before use.
func NewRepository(root string, cfg Config) (*Repository, error) {
	cfg = cfg.withDefaults()
	cache, err := lru.New(cfg.CacheEntries)
	if err != nil {
		return nil, fmt.Errorf("repo: create cache: %w", err)
	}
	return &Repository{
		root:           root,
		dir:            newLayout(root),
		cfg:            cfg,
		pendingPuts:    make(map[Key]Location),
		pendingDeletes: make(map[Key]struct{}),
		cache:          cache,
		logger:         zlog.With().Str("component", "repo").Str("root", root).Logger(),
	}, nil
}

// Open acquires the exclusive repository lock, then loads the most
// recent index file and opens the log for writing. If create is true, a
// fresh repository is bootstrapped at root first — failing with
// ErrAlreadyExists if root already holds one. If create is false and no
// repository exists at root, Open fails rather than creating one.
func (r *Repository) Open(ctx context.Context, create bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, statErr := os.Stat(r.dir.configPath())
	switch {
	case create:
		if err := bootstrap(r.root); err != nil {
			return err
		}
		r.logger.Info().Msg("bootstrapped new repository")
	case os.IsNotExist(statErr):
		return fmt.Errorf("repo: no repository at %s: %w", r.root, statErr)
	case statErr != nil:
		return fmt.Errorf("repo: stat %s: %w", r.dir.configPath(), statErr)
	}

	rc, err := readConfig(r.dir)
	if err != nil {
		return fmt.Errorf("repo: read config: %w", err)
	}
	if rc.Version != formatVersion {
		return fmt.Errorf("repo: unsupported format version %d in %s", rc.Version, r.dir.configPath())
	}

	lk, err := acquireLock(r.dir.lockPath())
	if err != nil {
		return err
	}
	r.lock = lk

	lg, err := newLog(r.dir, r.cfg.MaxSegmentBytes)
	if err != nil {
		r.lock.release()
		return err
	}
	r.log = lg

	ids, err := r.dir.listIndexFiles()
	if err != nil {
		r.log.close()
		r.lock.release()
		return fmt.Errorf("repo: list index files: %w", err)
	}
	switch len(ids) {
	case 0:
		r.index = make(map[Key]Location)
		r.state = stateClean
		if segs, _ := r.dir.listSegmentIDs(); len(segs) > 0 {
			if _, found, serr := segmentsLastCommit(r.dir, segs); serr == nil && found {
				// Segments exist with committed data but no index at all:
				// the "missing index" inconsistency from spec.md §4.4.
				r.state = stateCheckNeeded
			}
		}
	case 1:
		idx, err := loadIndexFile(r.dir.indexPath(ids[0]))
		if err != nil {
			r.log.close()
			r.lock.release()
			return fmt.Errorf("repo: load index: %w", err)
		}
		r.index = idx
		r.currentIndexFile = ids[0]
		r.haveIndexFile = true
		r.state = stateClean

		segs, err := r.dir.listSegmentIDs()
		if err != nil {
			r.log.close()
			r.lock.release()
			return fmt.Errorf("repo: list segments: %w", err)
		}
		lastCommitSeg, found, err := segmentsLastCommit(r.dir, segs)
		if err != nil {
			r.log.close()
			r.lock.release()
			return fmt.Errorf("repo: scan segments: %w", err)
		}
		if !found || lastCommitSeg != ids[0] {
			// index.<N> doesn't name the log's actual latest committed
			// segment: a stale index left behind by a crash, or one
			// renamed/forged out from under the repository.
			r.state = stateCheckNeeded
			r.logger.Warn().Uint32("index_names", ids[0]).Msg("index does not match log's latest committed segment, check required")
		}
	default:
		// More than one index.<N> file is itself the phantom/stale index
		// case; the highest one is loaded, but Get, Put, Delete, Commit and
		// Rollback refuse with ErrCheckNeeded until Check repairs it.
		max := ids[0]
		for _, id := range ids[1:] {
			if id > max {
				max = id
			}
		}
		idx, err := loadIndexFile(r.dir.indexPath(max))
		if err != nil {
			r.log.close()
			r.lock.release()
			return fmt.Errorf("repo: load index: %w", err)
		}
		r.index = idx
		r.currentIndexFile = max
		r.haveIndexFile = true
		r.state = stateCheckNeeded
		r.logger.Warn().Int("count", len(ids)).Msg("multiple index files present, check required")
	}

	r.logger.Info().Int("objects", len(r.index)).Msg("repository opened")
	return nil
}

// Close flushes the active segment and releases the lock.
func (r *Repository) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.log != nil {
		err = r.log.close()
	}
	if r.lock != nil {
		if lerr := r.lock.release(); lerr != nil && err == nil {
			err = lerr
		}
	}
	return err
}

func (r *Repository) requireOpen() error {
	if r.log == nil || r.lock == nil {
		return fmt.Errorf("repo: not open")
	}
	return nil
}

// requireHealthy additionally rejects use of a repository that Open or a
// prior operation has flagged as needing Check(repair=true) before it can
// be trusted again.
func (r *Repository) requireHealthy() error {
	if err := r.requireOpen(); err != nil {
		return err
	}
	if r.state == stateCheckNeeded {
		return ErrCheckNeeded{}
	}
	return nil
}

// Put stages a write, visible to Get within the same transaction right
// away but not durable until Commit has run.
func (r *Repository) Put(ctx context.Context, key Key, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHealthy(); err != nil {
		return err
	}
	if len(payload) > r.cfg.MaxPayloadBytes {
		return fmt.Errorf("repo: payload of %d bytes exceeds max %d", len(payload), r.cfg.MaxPayloadBytes)
	}
	framed, err := marshalRecord(tagPut, key, payload)
	if err != nil {
		return err
	}
	r.beginTxLocked()
	loc, err := r.log.append(framed)
	if err != nil {
		return err
	}
	r.pendingPuts[key] = loc
	delete(r.pendingDeletes, key)
	r.state = stateDirty
	r.cache.Remove(key)
	return nil
}

// Get resolves key against the pending overlay first, then the committed
// snapshot, consulting the read-through cache for committed payloads.
func (r *Repository) Get(ctx context.Context, key Key) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHealthy(); err != nil {
		return nil, err
	}
	if _, deleted := r.pendingDeletes[key]; deleted {
		return nil, ErrDoesNotExist{Key: key}
	}
	if loc, ok := r.pendingPuts[key]; ok {
		return r.readPayload(loc)
	}
	if v, ok := r.cache.Get(key); ok {
		return v.([]byte), nil
	}
	loc, ok := r.index[key]
	if !ok {
		return nil, ErrDoesNotExist{Key: key}
	}
	payload, err := r.readPayload(loc)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, payload)
	return payload, nil
}

// readPayload reads the record at loc and, on any failure, moves the
// repository to CHECK_NEEDED — a normal read never auto-repairs. A
// segment file that is missing entirely signals a deeper inconsistency
// than one bad record, so it surfaces as CheckNeeded directly rather
// than IntegrityError.
func (r *Repository) readPayload(loc Location) ([]byte, error) {
	rec, err := r.log.readAt(loc)
	if err != nil {
		r.state = stateCheckNeeded
		if os.IsNotExist(err) {
			return nil, ErrCheckNeeded{}
		}
		return nil, ErrIntegrityError{Segment: loc.Segment, Offset: loc.Offset, Reason: err.Error()}
	}
	if rec.tag != tagPut {
		r.state = stateCheckNeeded
		return nil, ErrIntegrityError{Segment: loc.Segment, Offset: loc.Offset, Reason: "indexed location is not a put record"}
	}
	return rec.payload, nil
}

// Delete stages removal of key. It is an error to delete a key that is
// not currently visible.
func (r *Repository) Delete(ctx context.Context, key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHealthy(); err != nil {
		return err
	}
	if _, deleted := r.pendingDeletes[key]; deleted {
		return ErrDoesNotExist{Key: key}
	}
	_, pendingPut := r.pendingPuts[key]
	_, committed := r.index[key]
	if !pendingPut && !committed {
		return ErrDoesNotExist{Key: key}
	}

	framed, err := marshalRecord(tagDelete, key, nil)
	if err != nil {
		return err
	}
	r.beginTxLocked()
	if _, err := r.log.append(framed); err != nil {
		return err
	}
	delete(r.pendingPuts, key)
	r.pendingDeletes[key] = struct{}{}
	r.state = stateDirty
	r.cache.Remove(key)
	return nil
}

func (r *Repository) beginTxLocked() {
	if r.txActive {
		return
	}
	r.txActive = true
	r.txStartSegment = r.log.activeID()
	r.txStartOffset = uint32(r.log.active.currentSize())
}

// Commit appends a COMMIT record, folds the pending overlay into the
// committed snapshot, and rewrites the index atomically.
func (r *Repository) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHealthy(); err != nil {
		return err
	}
	if !r.txActive {
		return nil
	}

	framed, err := marshalRecord(tagCommit, Key{}, nil)
	if err != nil {
		return err
	}
	if _, err := r.log.append(framed); err != nil {
		return err
	}
	if err := r.log.sync(); err != nil {
		return fmt.Errorf("repo: sync commit: %w", err)
	}

	for k, loc := range r.pendingPuts {
		r.index[k] = loc
	}
	for k := range r.pendingDeletes {
		delete(r.index, k)
	}

	newGen := r.log.activeID()
	if err := writeIndexFile(r.dir.indexPath(newGen), r.index); err != nil {
		r.state = stateCheckNeeded
		return fmt.Errorf("repo: write index: %w", err)
	}
	if r.haveIndexFile && r.currentIndexFile != newGen {
		_ = os.Remove(r.dir.indexPath(r.currentIndexFile))
	}
	r.currentIndexFile = newGen
	r.haveIndexFile = true

	r.pendingPuts = make(map[Key]Location)
	r.pendingDeletes = make(map[Key]struct{})
	r.txActive = false

	if err := r.log.rotate(); err != nil {
		r.state = stateCheckNeeded
		return fmt.Errorf("repo: rotate after commit: %w", err)
	}
	r.state = stateClean
	r.logger.Debug().Int("objects", len(r.index)).Msg("commit")
	return nil
}

// Rollback discards the pending overlay and truncates the log back to
// the start of the transaction.
func (r *Repository) Rollback(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireHealthy(); err != nil {
		return err
	}
	if !r.txActive {
		return nil
	}
	if err := r.log.rollbackTo(r.txStartSegment, r.txStartOffset); err != nil {
		r.state = stateCheckNeeded
		return err
	}
	for k := range r.pendingPuts {
		r.cache.Remove(k)
	}
	r.pendingPuts = make(map[Key]Location)
	r.pendingDeletes = make(map[Key]struct{})
	r.txActive = false
	r.state = stateClean
	return nil
}

// Iterate visits every key in the last committed snapshot.
func (r *Repository) Iterate(ctx context.Context, fn func(key Key) bool) error {
	r.mu.Lock()
	if err := r.requireOpen(); err != nil {
		r.mu.Unlock()
		return err
	}
	keys := make([]Key, 0, len(r.index))
	for k := range r.index {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	for _, k := range keys {
		if !fn(k) {
			break
		}
	}
	return nil
}
