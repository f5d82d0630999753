package chunkstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// gcSweepConcurrency caps how many shard directories Sweep walks at
// once; the chunk store fans out into 65536 shards (see Create), far more
// than is useful to walk in parallel on a single spinning disk.
const gcSweepConcurrency = 8

// GCStatus accumulates counts produced by a Sweep pass.
type GCStatus struct {
	DiskChunks    int64
	DiskBytes     int64
	RemovedChunks int64
	RemovedBytes  int64
	PendingChunks int64 // atime is recent but older than the oldest active writer
	PendingBytes  int64
	StillBad      int64 // a .N.bad marked chunk that survived this sweep
	RemovedBad    int64
}

// gcAtimeSkew is the relatime-compatible safety cushion: some filesystems
// mounted with relatime only update atime once per day, so a chunk
// touched just under 24h ago may still show a stale atime. Sweep treats
// any chunk with atime younger than 24h plus a 5 minute execution-time
// cushion as live regardless of writer state.
const gcAtimeSkew = 24*time.Hour + 5*time.Minute

// Sweep walks every chunk in the store and classifies it as disk-resident
// (kept), pending (younger than the oldest in-flight writer but not
// provably live), or removed (unlinked). oldestWriter is the start time
// of the oldest still-open insert transaction across all processes using
// this store (see proclock.Locker.OldestSharedLock); phase1Start is the
// time this sweep itself began, used to derive the relatime-safe cutoff.
//
// A chunk is only ever removed once its atime is older than both the
// relatime-safe cutoff AND the oldest writer's start time, so a chunk
// referenced by an index built moments before the sweep began (and
// touched during phase 1, before this sweep ran) is never collected out
// from under it.
func (s *Store) Sweep(ctx context.Context, oldestWriter, phase1Start time.Time) (GCStatus, error) {
	minAtime := phase1Start.Add(-gcAtimeSkew)
	if oldestWriter.Before(minAtime) {
		minAtime = oldestWriter
	}

	shards, err := os.ReadDir(s.chunkDir)
	if err != nil {
		return GCStatus{}, fmt.Errorf("chunkstore: sweep list shards: %w", err)
	}

	var (
		mu     sync.Mutex
		status GCStatus
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gcSweepConcurrency)
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(s.chunkDir, shard.Name())
		g.Go(func() error {
			local, err := s.sweepShard(gctx, shardDir, minAtime, oldestWriter)
			mu.Lock()
			status.add(local)
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return status, err
	}
	return status, nil
}

func (status *GCStatus) add(o GCStatus) {
	status.DiskChunks += o.DiskChunks
	status.DiskBytes += o.DiskBytes
	status.RemovedChunks += o.RemovedChunks
	status.RemovedBytes += o.RemovedBytes
	status.PendingChunks += o.PendingChunks
	status.PendingBytes += o.PendingBytes
	status.StillBad += o.StillBad
	status.RemovedBad += o.RemovedBad
}

func (s *Store) sweepShard(ctx context.Context, shardDir string, minAtime, oldestWriter time.Time) (GCStatus, error) {
	var status GCStatus
	err := filepath.WalkDir(shardDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		bad := filepath.Ext(path) == ".bad"

		s.mu.Lock()
		info, statErr := os.Lstat(path)
		s.mu.Unlock()
		if statErr != nil {
			// Raced with a concurrent removal; not an error for GC.
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		atime := atimeOf(info)
		switch {
		case atime.Before(minAtime):
			if rerr := os.Remove(path); rerr != nil {
				if bad {
					status.StillBad++
				}
				return fmt.Errorf("chunkstore: sweep unlink %s: %w", path, rerr)
			}
			if bad {
				status.RemovedBad++
			} else {
				status.RemovedChunks++
			}
			status.RemovedBytes += info.Size()
		case atime.Before(oldestWriter):
			if bad {
				status.StillBad++
			} else {
				status.PendingChunks++
			}
			status.PendingBytes += info.Size()
		default:
			if bad {
				status.StillBad++
			} else {
				status.DiskChunks++
			}
			status.DiskBytes += info.Size()
		}
		return nil
	})
	return status, err
}
