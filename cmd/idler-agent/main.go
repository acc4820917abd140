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

package main

import (
	"flag"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/openshift-kni/devfreq-idler/controllers"
	"github.com/openshift-kni/devfreq-idler/internal/devfreq"
	"github.com/openshift-kni/devfreq-idler/internal/idler"
	"github.com/openshift-kni/devfreq-idler/internal/monitoring"
	"github.com/openshift-kni/devfreq-idler/internal/scaling"
	"github.com/openshift-kni/devfreq-idler/internal/suspend"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	var metricsAddr string
	var probeAddr string
	var classPath string
	var cumulativeBusy bool
	var samplePeriod time.Duration
	var displayStatePath string
	var displayPollPeriod time.Duration
	var configNamespace string
	var configName string
	devices := deviceFlags{}
	settings := idler.DefaultSettings()
	var idleWaitEvents, downDifferential uint

	flag.StringVar(&metricsAddr, "metrics-bind-address", ":10001", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":10002", "The address the probe endpoint binds to.")
	flag.StringVar(&classPath, "devfreq-class-path", devfreq.DefaultClassPath, "Directory holding the devfreq devices.")
	flag.Var(devices, "device",
		"Device to manage as <devfreq name>=<busy counter path>, repeatable. "+
			"Defaults to the Adreno GPU with its kgsl gpubusy counter.")
	flag.BoolVar(&cumulativeBusy, "cumulative-busy", false,
		"Busy counters grow monotonically and samples are the delta between reads.")
	flag.DurationVar(&samplePeriod, "sample-period", scaling.DefaultSamplePeriod,
		"Interval between load samples. kgsl gpubusy publishes a new window about once per second "+
			"and reads of an unchanged window are skipped.")
	flag.StringVar(&displayStatePath, "display-state-path", "",
		"Display state file (e.g. a backlight bl_power). Suspend detection is disabled when empty.")
	flag.DurationVar(&displayPollPeriod, "display-poll-period", suspend.DefaultPollPeriod, "Interval between display state reads.")
	flag.StringVar(&configNamespace, "config-namespace", controllers.DefaultConfigNamespace, "Namespace of the tunables ConfigMap.")
	flag.StringVar(&configName, "config-name", controllers.DefaultConfigName, "Name of the tunables ConfigMap.")
	flag.DurationVar(&settings.IdleWorkloadThreshold, "idle-workload-threshold", settings.IdleWorkloadThreshold,
		"Busy time per sample below which the device is considered idle.")
	flag.DurationVar(&settings.IdleWaitDuration, "idle-wait-duration", settings.IdleWaitDuration,
		"Sustained idle time before the lowest frequency is forced.")
	flag.UintVar(&idleWaitEvents, "idle-wait-events", uint(settings.IdleWaitEvents),
		"Consecutive idle samples before idleness is confirmed.")
	flag.UintVar(&downDifferential, "down-differential", uint(settings.DownDifferentialPct),
		"Busy percentage below which an idle sample counts as low utilization.")
	flag.BoolVar(&settings.Active, "active", settings.Active, "Override the governor when idle.")
	logOpts := zap.Options{}
	logOpts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(
		zap.UseDevMode(true),
		func(o *zap.Options) {
			o.TimeEncoder = zapcore.ISO8601TimeEncoder
		},
		zap.UseFlagOptions(&logOpts),
	),
	)

	if samplePeriod <= 0 {
		setupLog.Error(nil, "sample period must be positive", "sample-period", samplePeriod)
		os.Exit(1)
	}
	if displayPollPeriod <= 0 {
		setupLog.Error(nil, "display poll period must be positive", "display-poll-period", displayPollPeriod)
		os.Exit(1)
	}

	settings.IdleWaitEvents = uint32(idleWaitEvents)
	settings.DownDifferentialPct = uint32(min(downDifferential, 100))
	config := idler.NewConfig(settings)

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress: metricsAddr,
		},
		HealthProbeBindAddress: probeAddr,
		Cache: cache.Options{
			DefaultNamespaces: map[string]cache.Config{configNamespace: {}},
		},
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	notifier := suspend.NewNotifier()
	if displayStatePath != "" {
		watcher := suspend.NewWatcher(notifier, suspend.WatcherOpts{
			StatePath: displayStatePath,
			Period:    displayPollPeriod,
		})
		if err := mgr.Add(watcher); err != nil {
			setupLog.Error(err, "unable to add display state watcher")
			os.Exit(1)
		}
	}

	monitoringLog := ctrl.Log.WithName(monitoring.LogTopName)
	decisionMetrics := monitoring.NewDecisionMetrics(monitoringLog)
	if err := decisionMetrics.Register(metrics.Registry); err != nil {
		setupLog.Error(err, "unable to register metrics")
		os.Exit(1)
	}
	metrics.Registry.MustRegister(monitoring.NewSuspendCollector(notifier.Suspended, monitoringLog))
	metrics.Registry.MustRegister(monitoring.NewConfigCollectors(config, monitoringLog)...)

	if err = (&controllers.IdlerConfigReconciler{
		Client:    mgr.GetClient(),
		Log:       ctrl.Log.WithName("controllers").WithName("IdlerConfig"),
		Scheme:    mgr.GetScheme(),
		Config:    config,
		Namespace: configNamespace,
		Name:      configName,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "IdlerConfig")
		os.Exit(1)
	}

	optsList, err := buildScalingOpts(devices, classPath, cumulativeBusy, samplePeriod)
	if err != nil {
		setupLog.Error(err, "unable to determine managed devices")
		os.Exit(1)
	}
	scalingManager := scaling.NewDeviceScalingManager(scaling.ScalingDeps{
		Advisor:  idler.NewAdvisor(nil),
		Config:   config,
		Suspend:  notifier,
		Recorder: decisionMetrics,
	})
	if err := mgr.Add(scalingManager); err != nil {
		setupLog.Error(err, "unable to add device scaling manager")
		os.Exit(1)
	}
	for _, opts := range optsList {
		setupLog.Info("managing device", "device", opts.Device.Name(), "samplePeriod", opts.SamplePeriod)
	}
	scalingManager.ManageDeviceScaling(optsList)

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
