package suspend

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
)

var (
	testHookStopLoop func() bool
)

// DefaultOffTokens are the display-state values meaning the panel is off:
// bl_power/fb_blank report 4 for powerdown, some drivers print 1 or "off".
var DefaultOffTokens = []string{"1", "4", "off"}

// DefaultPollPeriod is used when WatcherOpts.Period is not positive.
const DefaultPollPeriod = time.Second

// Notifier publishes whether the platform is suspended (display off).
// Callers sample it once per tick.
type Notifier struct {
	suspended atomic.Bool
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Publish(suspended bool) {
	n.suspended.Store(suspended)
}

func (n *Notifier) Suspended() bool {
	return n.suspended.Load()
}

type WatcherOpts struct {
	// StatePath is a display-state file, e.g. /sys/class/backlight/<panel>/bl_power.
	StatePath string
	Period    time.Duration
	OffTokens []string
}

// Watcher polls the display-state file and feeds the Notifier.
type Watcher struct {
	notifier  *Notifier
	statePath string
	period    time.Duration
	offTokens []string
	logger    logr.Logger
}

func NewWatcher(notifier *Notifier, opts WatcherOpts) *Watcher {
	offTokens := opts.OffTokens
	if len(offTokens) == 0 {
		offTokens = DefaultOffTokens
	}
	period := opts.Period
	if period <= 0 {
		period = DefaultPollPeriod
	}

	return &Watcher{
		notifier:  notifier,
		statePath: opts.StatePath,
		period:    period,
		offTokens: offTokens,
		logger:    ctrl.Log.WithName("SuspendWatcher"),
	}
}

// Start implements manager.Runnable.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.V(4).Info("watching display state", "path", w.statePath, "period", w.period)
	w.poll()

	for {
		if testHookStopLoop != nil {
			if testHookStopLoop() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.period):
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	suspended, err := w.readState()
	if err != nil {
		// keep the last published value
		w.logger.Error(err, "failed to read display state")
		return
	}

	if suspended != w.notifier.Suspended() {
		w.logger.V(4).Info("display state changed", "suspended", suspended)
	}
	w.notifier.Publish(suspended)
}

func (w *Watcher) readState() (bool, error) {
	raw, err := os.ReadFile(w.statePath)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", w.statePath, err)
	}
	state := strings.ToLower(strings.TrimSpace(string(raw)))
	return slices.Contains(w.offTokens, state), nil
}
