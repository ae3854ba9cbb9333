package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/policy"
	"github.com/openfroyo/pdreach/pkg/telemetry"
)

// watchCheck runs check once, then again every time the model file or a
// policy directory changes, until ctx is cancelled.
func (a *app) watchCheck(ctx context.Context, out io.Writer, path string, opts checkOptions) error {
	logger := telemetry.FromContext(ctx).NewComponentLogger("watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return engine.NewInternalError("failed to create file watcher", err)
	}
	defer watcher.Close()

	modelFile, err := filepath.Abs(path)
	if err != nil {
		return engine.NewValidationError("invalid model path", err)
	}
	// Editors replace files on save, so the directory is watched rather
	// than the file itself.
	if err := watcher.Add(filepath.Dir(modelFile)); err != nil {
		return engine.NewValidationError(fmt.Sprintf("failed to watch %s", path), err)
	}
	policyDirs := append(append([]string{}, a.settings.PolicyDirs...), opts.policyDirs...)
	for _, dir := range policyDirs {
		if err := watcher.Add(dir); err != nil {
			return engine.NewValidationError(fmt.Sprintf("failed to watch %s", dir), err)
		}
	}

	var mu sync.Mutex
	run := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(out, "%s %s\n", styleDim.Render(time.Now().Format(time.TimeOnly)), styleInfo.Render("checking "+path))
		if err := a.runCheck(ctx, out, path, opts); err != nil {
			var exit *ExitError
			if errors.As(err, &exit) {
				logger.Info(exit.Error())
			} else {
				logger.WithError(err).Error("Check failed")
			}
		}
	}

	run()
	logger.WithField("model", path).Info("Watching for changes")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantChange(event, modelFile) {
				continue
			}
			logger.Debugf("Change detected: %s %s", event.Op, event.Name)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(policy.DefaultReloadDelay, run)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("File watcher error")
		}
	}
}

// relevantChange reports whether event touches the model file or a policy.
func relevantChange(event fsnotify.Event, modelFile string) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	if name == modelFile {
		return true
	}
	switch filepath.Ext(name) {
	case ".rego", ".json":
		return true
	}
	return false
}
