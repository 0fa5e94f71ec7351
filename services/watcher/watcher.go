package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/config"
	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/enum"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/tracing"
)

// Watcher picks up files dropped into the consume directory. A file is only
// submitted after it has been quiet for the settle delay, so partially
// written files are never consumed.
type Watcher struct {
	cfg        config.WatcherConfig
	consumeDir string
	log        logger.Logger
	dispatcher interfaces.TaskDispatcher

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
}

func NewWatcher(cfg config.WatcherConfig, consumeDir string, log logger.Logger, dispatcher interfaces.TaskDispatcher) *Watcher {
	return &Watcher{
		cfg:        cfg,
		consumeDir: consumeDir,
		log:        log,
		dispatcher: dispatcher,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
}

// Start begins watching. Files already sitting in the consume directory are
// scheduled immediately.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create filesystem watcher")
	}
	if err := fsw.Add(w.consumeDir); err != nil {
		fsw.Close()
		return errors.Wrapf(err, "failed to watch %s", w.consumeDir)
	}
	w.fsw = fsw

	if err := w.scanExisting(ctx); err != nil {
		w.log.Warnf("Initial consume directory scan failed: %v", err)
	}

	go w.loop(ctx)
	w.log.Infof("Watching %s for new documents", w.consumeDir)
	return nil
}

func (w *Watcher) Stop() {
	close(w.done)
	if w.fsw != nil {
		w.fsw.Close()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Errorf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.consumeDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.schedule(ctx, filepath.Join(w.consumeDir, entry.Name()))
	}
	return nil
}

// schedule (re)arms the settle timer for a path. Each new write postpones
// the submission.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if ignored(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	delay := time.Duration(w.cfg.SettleDelaySeconds) * time.Second
	w.pending[path] = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.submit(ctx, path)
	})
}

func (w *Watcher) submit(ctx context.Context, path string) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Watcher.Submit")
	defer span.Finish()
	tracing.TagComponentService(span)
	span.LogKV("file", path)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	descriptor, err := dto.NewDocumentDescriptor(enum.SourceConsumeFolder, path)
	if err != nil {
		tracing.TraceErr(span, err)
		w.log.Errorf("Failed to describe %s: %v", path, err)
		return
	}

	taskID, err := w.dispatcher.SubmitTask(ctx, interfaces.TaskSpec{
		Type: dto.TaskConsumeFile,
		Payload: dto.ConsumeFilePayload{
			Document: descriptor,
		},
	})
	if err != nil {
		tracing.TraceErr(span, err)
		w.log.Errorf("Failed to submit %s for consumption: %v", path, err)
		return
	}
	w.log.Infof("Submitted %s as task %s", path, taskID)
}

// ignored filters out hidden files and common editor droppings.
func ignored(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".part", ".crdownload", ".swp":
		return true
	}
	return false
}
