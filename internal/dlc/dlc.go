// Package dlc enumerates a title's DLC, classifies each entry as free or
// paid, and installs the lot. Paid DLC carries its own depots and runs
// the full artifact pipeline; free DLC only needs a registration next to
// the main title.
package dlc

import (
	"context"
	"sync"
	"time"

	"depotkit/internal/fault"
	"depotkit/internal/installer"
	"depotkit/internal/logx"
	"depotkit/internal/source"
	"depotkit/internal/steamapi"
)

const (
	defaultBatchSize = 10
	defaultPause     = 500 * time.Millisecond
)

type Resolver struct {
	API     *steamapi.Client
	Locator *source.Locator
	Writer  *installer.Writer
	Log     logx.Logger

	// BatchSize and Pause pace the metadata lookups so the upstream APIs
	// are not hammered. Pause applies between batches, not items.
	BatchSize int
	Pause     time.Duration

	sleep func(time.Duration)
}

func NewResolver(api *steamapi.Client, loc *source.Locator, w *installer.Writer, log logx.Logger) *Resolver {
	if log == nil {
		log = logx.Nop()
	}
	return &Resolver{
		API:       api,
		Locator:   loc,
		Writer:    w,
		Log:       log,
		BatchSize: defaultBatchSize,
		Pause:     defaultPause,
		sleep:     time.Sleep,
	}
}

type Candidate struct {
	AppID string
	Name  string
	// Paid means the DLC publishes its own depots and needs manifests and
	// keys; free DLC is unlocked by registration alone.
	Paid bool
}

// Progress fires once per classified item, done counting up to total.
type Progress func(done, total int, c Candidate)

// Enumerate lists the title's candidate DLC IDs.
func (r *Resolver) Enumerate(ctx context.Context, appID string) ([]string, error) {
	ids, err := r.API.DLCList(ctx, appID)
	if err != nil {
		return nil, fault.Wrap(fault.KindNotFound, err, "DLC_LIST: app %s", appID)
	}
	return ids, nil
}

// Classify resolves each candidate's name and free/paid status in paced
// batches, items within a batch in parallel. An item whose lookup fails
// is logged and dropped; the progress callback still fires for it so
// callers can show completion.
func (r *Resolver) Classify(ctx context.Context, ids []string, progress Progress) ([]Candidate, error) {
	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	results := make([]*Candidate, len(ids))
	var (
		mu   sync.Mutex
		done int
	)
	for start := 0; start < len(ids); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if start > 0 && r.Pause > 0 {
			sleep(r.Pause)
		}
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := ids[i]
				c := Candidate{AppID: id}
				depots, err := r.API.Depots(ctx, id)
				if err == nil {
					c.Paid = len(depots) > 0
					c.Name = r.API.GameName(ctx, id)
					results[i] = &c
				} else {
					r.Log.Warning("dlc lookup failed, skipping", "app", id, "err", err)
				}
				mu.Lock()
				done++
				if progress != nil {
					progress(done, len(ids), c)
				}
				mu.Unlock()
			}(i)
		}
		wg.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(ids))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// Summary reports what an InstallAll pass achieved.
type Summary struct {
	Free      []string
	Installed []string
	Failed    []string
}

// InstallAll registers the free candidates against the main title and
// runs the full pipeline for each paid one. A paid item that fails to
// resolve or install is recorded as failed and the rest proceed; only
// cancellation aborts the pass. progress fires once per paid item,
// success or not, and may be nil.
func (r *Resolver) InstallAll(ctx context.Context, mainAppID string, descs []source.Descriptor, cands []Candidate, opts installer.Options, progress Progress) (Summary, error) {
	var sum Summary
	var free []string
	var paid []Candidate
	for _, c := range cands {
		if c.Paid {
			paid = append(paid, c)
		} else {
			free = append(free, c.AppID)
		}
	}
	if len(free) > 0 {
		if err := r.Writer.AppendFreeApps(mainAppID, free); err != nil {
			return sum, err
		}
		sum.Free = free
	}

	for i, c := range paid {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		err := r.installOne(ctx, descs, c, opts)
		if progress != nil {
			progress(i+1, len(paid), c)
		}
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			r.Log.Warning("dlc install failed, skipping", "app", c.AppID, "name", c.Name, "reason", err)
			sum.Failed = append(sum.Failed, c.AppID)
			continue
		}
		sum.Installed = append(sum.Installed, c.AppID)
	}
	return sum, nil
}

func (r *Resolver) installOne(ctx context.Context, descs []source.Descriptor, c Candidate, opts installer.Options) error {
	set, err := r.Locator.ResolveFirst(ctx, descs, c.AppID, source.Options{SkipManifests: opts.OnlyScripts})
	if err != nil {
		return err
	}
	if _, err := r.Writer.Install(ctx, set, opts); err != nil {
		return err
	}
	return r.Writer.RecordInstalled(c.AppID, c.Name, set)
}
