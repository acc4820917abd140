/*


Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controllers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/openshift-kni/devfreq-idler/internal/idler"
)

const (
	DefaultConfigNamespace = "devfreq-idler"
	DefaultConfigName      = "idler-config"

	IdleWorkloadThresholdKey = "idleWorkloadThreshold"
	IdleWaitDurationKey      = "idleWaitDuration"
	IdleWaitEventsKey        = "idleWaitEvents"
	DownDifferentialKey      = "downDifferential"
	ActiveKey                = "active"
)

// IdlerConfigReconciler keeps the shared idler.Config in line with the
// tunables ConfigMap.
type IdlerConfigReconciler struct {
	client.Client
	Log       logr.Logger
	Scheme    *runtime.Scheme
	Config    *idler.Config
	Namespace string
	Name      string
}

// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch

// Reconcile applies the ConfigMap's tunables. Keys that are absent fall
// back to defaults, a deleted ConfigMap restores all defaults and invalid
// values leave the corresponding tunable untouched.
func (r *IdlerConfigReconciler) Reconcile(c context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := r.Log.WithValues("configmap", req.NamespacedName)
	if req.Namespace != r.Namespace || req.Name != r.Name {
		logger.V(5).Info("not the idler configuration, ignoring")
		return ctrl.Result{}, nil
	}
	logger.Info("reconciling the idler configuration")

	configMap := &corev1.ConfigMap{}
	err := r.Client.Get(c, req.NamespacedName, configMap)
	if err != nil {
		if apierrors.IsNotFound(err) {
			r.Config.Apply(idler.DefaultSettings())
			logger.Info("configuration removed, restored defaults")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "error retrieving the idler configuration")
		return ctrl.Result{}, err
	}

	settings, err := ParseSettings(configMap.Data, r.Config.Snapshot())
	r.Config.Apply(settings)
	if err != nil {
		// retrying will not fix a typo, wait for the next edit
		logger.Error(err, "invalid tunables in the idler configuration")
	}
	logger.V(5).Info("applied idler configuration",
		"idleWorkloadThreshold", settings.IdleWorkloadThreshold,
		"idleWaitDuration", settings.IdleWaitDuration,
		"idleWaitEvents", settings.IdleWaitEvents,
		"downDifferential", settings.DownDifferentialPct,
		"active", settings.Active,
	)

	return ctrl.Result{}, nil
}

// ParseSettings builds settings from ConfigMap data. Missing keys take
// their default, invalid ones keep the value from current.
func ParseSettings(data map[string]string, current idler.Settings) (idler.Settings, error) {
	settings := idler.DefaultSettings()
	var errs []error

	if raw, found := data[IdleWorkloadThresholdKey]; found {
		// bare numbers are busy time in microseconds
		if threshold, err := parseDuration(raw, time.Microsecond); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", IdleWorkloadThresholdKey, err))
			settings.IdleWorkloadThreshold = current.IdleWorkloadThreshold
		} else {
			settings.IdleWorkloadThreshold = threshold
		}
	}
	if raw, found := data[IdleWaitDurationKey]; found {
		// bare numbers are milliseconds
		if wait, err := parseDuration(raw, time.Millisecond); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", IdleWaitDurationKey, err))
			settings.IdleWaitDuration = current.IdleWaitDuration
		} else {
			settings.IdleWaitDuration = wait
		}
	}
	if raw, found := data[IdleWaitEventsKey]; found {
		if events, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", IdleWaitEventsKey, err))
			settings.IdleWaitEvents = current.IdleWaitEvents
		} else {
			settings.IdleWaitEvents = uint32(events)
		}
	}
	if raw, found := data[DownDifferentialKey]; found {
		pct, err := strconv.ParseUint(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%")), 10, 32)
		if err == nil && pct > 100 {
			err = fmt.Errorf("percentage %d out of range", pct)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", DownDifferentialKey, err))
			settings.DownDifferentialPct = current.DownDifferentialPct
		} else {
			settings.DownDifferentialPct = uint32(pct)
		}
	}
	if raw, found := data[ActiveKey]; found {
		if active, err := strconv.ParseBool(strings.TrimSpace(raw)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ActiveKey, err))
			settings.Active = current.Active
		} else {
			settings.Active = active
		}
	}

	return settings, errors.Join(errs...)
}

// parseDuration accepts Go durations or bare integers in unit.
func parseDuration(raw string, unit time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if value, err := strconv.ParseUint(raw, 10, 63); err == nil {
		if value > uint64(math.MaxInt64/int64(unit)) {
			return 0, fmt.Errorf("duration %s out of range", raw)
		}
		return time.Duration(value) * unit, nil
	} else if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("duration %s out of range: %w", raw, err)
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

// SetupWithManager registers the reconciler for the configured ConfigMap only.
func (r *IdlerConfigReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&corev1.ConfigMap{}).
		WithEventFilter(predicate.NewPredicateFuncs(func(obj client.Object) bool {
			return obj.GetNamespace() == r.Namespace && obj.GetName() == r.Name
		})).
		Complete(r)
}
