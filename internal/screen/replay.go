package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/joseph-ayodele/autograder/constants"
	"github.com/joseph-ayodele/autograder/internal/entity"
)

// ErrExhausted is returned by Capture once every image has been served and
// looping is off.
var ErrExhausted = errors.New("replay: no more answer images")

// Replay is a dry-run screen. Capture serves JPEG answer images from a
// directory in name order; clicks and typed text are logged and kept so a run
// can be inspected afterwards.
type Replay struct {
	dir    string
	loop   bool
	logger *slog.Logger

	mu      sync.Mutex
	files   []string
	known   map[string]struct{}
	next    int
	actions []string

	// set by Watch
	wait    time.Duration
	arrived chan struct{}
}

// NewReplay lists the images in dir. With loop set, Capture starts over after
// the last image unless Watch is running.
func NewReplay(dir string, loop bool, logger *slog.Logger) (*Replay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read replay dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !constants.IsImageExt(filepath.Ext(e.Name())) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("replay dir %s has no jpeg images", dir)
	}
	sort.Strings(files)
	known := make(map[string]struct{}, len(files))
	for _, f := range files {
		known[f] = struct{}{}
	}
	logger.Info("screen.replay.loaded", "dir", dir, "images", len(files), "loop", loop)
	return &Replay{
		dir:     dir,
		loop:    loop,
		logger:  logger,
		files:   files,
		known:   known,
		arrived: make(chan struct{}, 1),
	}, nil
}

func (r *Replay) Capture(ctx context.Context, area entity.Rect) ([]byte, error) {
	path, err := r.nextFile(ctx)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	x, y, w, h := area.Normalize()
	r.logger.Debug("screen.replay.capture", "file", filepath.Base(path), "x", x, "y", y, "w", w, "h", h, "bytes", len(data))
	return data, nil
}

func (r *Replay) Click(ctx context.Context, p entity.Point) error {
	r.record(fmt.Sprintf("click(%d,%d)", p.X, p.Y))
	return nil
}

func (r *Replay) TypeText(ctx context.Context, text string) error {
	r.record("type(" + text + ")")
	return nil
}

func (r *Replay) SelectAllAndDelete(ctx context.Context) error {
	r.record("clear")
	return nil
}

func (r *Replay) record(action string) {
	r.mu.Lock()
	r.actions = append(r.actions, action)
	r.mu.Unlock()
	r.logger.Debug("screen.replay.input", "action", action)
}

// nextFile returns the next image to serve. In watch mode it waits up to the
// configured time for a new image once the known ones are used up.
func (r *Replay) nextFile(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r.mu.Lock()
		if r.next < len(r.files) {
			path := r.files[r.next]
			r.next++
			r.mu.Unlock()
			return path, nil
		}
		if r.loop && r.wait == 0 {
			r.next = 0
			r.mu.Unlock()
			continue
		}
		wait := r.wait
		r.mu.Unlock()

		if wait == 0 {
			return "", ErrExhausted
		}
		r.logger.Info("screen.replay.waiting", "dir", r.dir, "timeout_ms", wait.Milliseconds())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
			return "", ErrExhausted
		case <-r.arrived:
			t.Stop()
		}
	}
}

// Actions returns the input actions performed so far.
func (r *Replay) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}
