package knowledge

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// docWatcher watches the docs directory for article changes and calls
// onDirty after a debounce window.
type docWatcher struct {
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onDirty  func()
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

func newDocWatcher(logger zerolog.Logger, onDirty func()) (*docWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dw := &docWatcher{
		watcher:  w,
		logger:   logger,
		onDirty:  onDirty,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	go dw.run()

	return dw, nil
}

func (dw *docWatcher) watch(path string) error {
	return dw.watcher.Add(path)
}

func (dw *docWatcher) stop() error {
	close(dw.stopCh)
	return dw.watcher.Close()
}

func (dw *docWatcher) run() {
	for {
		select {
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}

			if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				dw.logger.Debug().
					Str("article", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Article change detected")

				dw.scheduleMarkDirty()
			}

		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			dw.logger.Error().Err(err).Msg("Doc watcher error")

		case <-dw.stopCh:
			return
		}
	}
}

func (dw *docWatcher) scheduleMarkDirty() {
	if dw.timer != nil {
		dw.timer.Stop()
	}

	dw.timer = time.AfterFunc(dw.debounce, func() {
		dw.logger.Debug().Msg("Marking knowledge index dirty after article changes")
		dw.onDirty()
	})
}
