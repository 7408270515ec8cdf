package ingest

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

type RunnerConfig struct {
	// Inputs are archive globs; "**" matches any number of directories.
	Inputs   []string
	ErrorDir string
	DoneDir  string
	// Workers is the number of archives processed concurrently.
	Workers int
	// Timeout bounds one RunOnce call; zero means no limit.
	Timeout time.Duration
}

// RunStats summarizes one RunOnce call.
type RunStats struct {
	ArchivesSeen      int
	ArchivesIngested  int
	ArchivesSkipped   int
	ArchivesFailed    int
	DevicesProcessed  int
	CredentialsStored int
	SoftwareStored    int
	ArchivesMoved     int
}

func (s *RunStats) add(res *ArchiveResult, err error) {
	s.ArchivesSeen++
	switch {
	case err != nil:
		s.ArchivesFailed++
	case res.Skipped:
		s.ArchivesSkipped++
	default:
		s.ArchivesIngested++
		s.DevicesProcessed += res.Counts.DevicesProcessed
		s.CredentialsStored += res.Counts.CredentialsCount
		s.SoftwareStored += res.Counts.SoftwareCount
	}
}

// Runner ingests every archive matched by its inputs.
type Runner struct {
	cfg   RunnerConfig
	fs    afero.Fs
	coord *Coordinator
	log   logrus.FieldLogger
}

func NewRunner(cfg RunnerConfig, fsys afero.Fs, coord *Coordinator, log logrus.FieldLogger) (*Runner, error) {
	if coord == nil {
		return nil, errors.New("coordinator is required")
	}
	if len(cfg.Inputs) == 0 {
		return nil, errors.New("at least one input glob is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if log == nil {
		log = NewNopLogger()
	}
	return &Runner{cfg: cfg, fs: fsys, coord: coord, log: log}, nil
}

// RunOnce expands the inputs and ingests every matched archive. Failures of
// single archives are counted, not returned; the error reports problems with
// the run itself (bad glob, timeout).
func (r *Runner) RunOnce(ctx context.Context) (*RunStats, error) {
	start := time.Now()
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	paths, err := r.expandInputs(r.cfg.Inputs)
	if err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"archives": len(paths), "workers": r.cfg.Workers}).Debug("run start")

	stats := &RunStats{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, p := range paths {
		p := p
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := r.IngestPath(gctx, p)
			mu.Lock()
			stats.add(res, err)
			if res != nil && res.MovedTo != "" {
				stats.ArchivesMoved++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.log.WithFields(logrus.Fields{
		"seen":        stats.ArchivesSeen,
		"ingested":    stats.ArchivesIngested,
		"skipped":     stats.ArchivesSkipped,
		"failed":      stats.ArchivesFailed,
		"devices":     stats.DevicesProcessed,
		"credentials": stats.CredentialsStored,
		"elapsed":     time.Since(start).String(),
	}).Info("run complete")

	if err := ctx.Err(); err != nil {
		return stats, errors.Wrap(err, "run aborted")
	}
	return stats, nil
}

// IngestPath ingests one archive and moves it to the error or done
// directory according to the outcome.
func (r *Runner) IngestPath(ctx context.Context, p string) (*ArchiveResult, error) {
	res, err := r.coord.IngestArchive(ctx, p)
	if err != nil {
		if interrupted(ctx, err) {
			// left in place so the next run picks it up again
			r.log.WithField("archive", p).WithError(err).Warn("archive interrupted")
			return res, err
		}
		r.log.WithField("archive", p).WithError(err).Error("archive failed")
		if strings.TrimSpace(r.cfg.ErrorDir) != "" {
			if dst, mvErr := MoveFileToDir(r.fs, p, r.cfg.ErrorDir, archiveTag(res)); mvErr != nil {
				r.log.WithField("archive", p).WithError(mvErr).Warn("move to error_dir failed")
			} else {
				r.log.WithFields(logrus.Fields{"archive": p, "dst": dst}).Info("moved to error_dir")
				res.MovedTo = dst
			}
		}
		return res, err
	}
	// duplicates count as done
	if (res.Status == StatusCompleted || res.Skipped) && strings.TrimSpace(r.cfg.DoneDir) != "" {
		if dst, mvErr := MoveFileToDir(r.fs, p, r.cfg.DoneDir, archiveTag(res)); mvErr != nil {
			r.log.WithField("archive", p).WithError(mvErr).Warn("move to done_dir failed")
		} else {
			r.log.WithFields(logrus.Fields{"archive": p, "dst": dst}).Debug("moved to done_dir")
			res.MovedTo = dst
		}
	}
	return res, nil
}

// interrupted reports whether err comes from the run being canceled or
// timing out rather than from the archive itself.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Runner) expandInputs(globs []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, g := range globs {
		if strings.TrimSpace(g) == "" {
			continue
		}
		matches, err := expandGlobWithDoubleStar(r.fs, g)
		if err != nil {
			return nil, errors.Wrapf(err, "expand %q", g)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

func expandGlobWithDoubleStar(fsys afero.Fs, pattern string) ([]string, error) {
	if !strings.Contains(pattern, "**") {
		matches, err := afero.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		return onlyFiles(fsys, matches), nil
	}

	idx := strings.Index(pattern, "**")
	basePart := strings.TrimRight(pattern[:idx], string(filepath.Separator)+"/")
	if basePart == "" {
		basePart = "."
	}
	basePart = filepath.Clean(basePart)

	suffix := strings.TrimLeft(pattern[idx+2:], string(filepath.Separator)+"/")
	if suffix == "" {
		suffix = "*"
	}

	baseSlash := filepath.ToSlash(basePart)
	suffixSlash := filepath.ToSlash(suffix)
	matchBasenameOnly := !strings.Contains(suffixSlash, "/")

	var matches []string
	err := afero.Walk(fsys, basePart, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel := strings.TrimLeft(strings.TrimPrefix(filepath.ToSlash(p), baseSlash), "/")
		candidate := rel
		if matchBasenameOnly {
			candidate = path.Base(rel)
		}
		ok, matchErr := path.Match(suffixSlash, candidate)
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func onlyFiles(fsys afero.Fs, paths []string) []string {
	out := paths[:0]
	for _, p := range paths {
		if isDir, err := afero.IsDir(fsys, p); err == nil && !isDir {
			out = append(out, p)
		}
	}
	return out
}
