package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"render-budget-controller/pkg/config"
	"render-budget-controller/pkg/constants"
	"render-budget-controller/pkg/controller"
	"render-budget-controller/pkg/signals"
	"render-budget-controller/pkg/util"
)

type opts struct {
	configPath string
	mode       string
	scenario   string
	session    string
	outDir     string
	frames     int64
	interval   time.Duration
}

func main() {
	klog.InitFlags(nil)

	var o opts

	root := &cobra.Command{
		Use:   "controller",
		Short: "Adaptive render-budget feedback controller",
		Long: `The controller runs a simulated render workload through a closed
feedback loop: a scenario driver varies the unit count, a short-horizon
forecaster predicts the next frame cost, and a hysteresis controller
steps the quality level and particle budget to keep the frame within
its latency target. Every tick is recorded to a telemetry session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
	}
	root.Flags().AddGoFlagSet(flag.CommandLine)

	root.Flags().StringVarP(&o.configPath, "config", "c", util.GetEnvOrDefault("RBC_CONFIG", ""), "path to config file (YAML)")
	root.Flags().StringVar(&o.mode, "mode", "", "execution mode override: baseline, prediction-only or closed-loop")
	root.Flags().StringVar(&o.scenario, "scenario", "", "scenario mode override: idle, ramp, bursts or randomwalk")
	root.Flags().StringVar(&o.session, "session", "", "telemetry session name (default: timestamp)")
	root.Flags().StringVarP(&o.outDir, "out", "o", util.GetEnvOrDefault("RBC_OUT_DIR", ""), "telemetry output directory")
	root.Flags().Int64VarP(&o.frames, "frames", "n", int64(util.GetEnvInt("RBC_FRAMES", 0)), "stop after this many frames (0 = run until interrupted)")
	root.Flags().DurationVarP(&o.interval, "interval", "i", 0, "frame interval override (e.g. 16ms)")

	if err := root.Execute(); err != nil {
		klog.Fatalf("Error running controller: %s", err.Error())
	}
}

func run(o opts) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if err := applyOverrides(&cfg, o); err != nil {
		return err
	}

	loop, err := controller.Build(cfg)
	if err != nil {
		return fmt.Errorf("build control loop: %w", err)
	}

	stopCh := signals.SetupSignalHandler()
	if o.frames > 0 {
		stopCh = stopAfter(stopCh, o.frames, cfg.FrameInterval)
	}
	return loop.Run(stopCh)
}

// applyOverrides layers the command-line overrides on top of the loaded
// config and re-validates the result.
func applyOverrides(cfg *config.Config, o opts) error {
	if o.mode != "" {
		cfg.Control.Mode = constants.ExecMode(o.mode)
	}
	if o.scenario != "" {
		cfg.Scenario.Mode = constants.ScenarioMode(o.scenario)
	}
	if o.session != "" {
		cfg.Telemetry.SessionName = o.session
	}
	if o.outDir != "" {
		cfg.Telemetry.Dir = o.outDir
	}
	if o.interval > 0 {
		cfg.FrameInterval = o.interval
		cfg.Sim.FrameInterval = o.interval
	}
	return cfg.Validate()
}

// stopAfter derives a stop channel that closes after the given number of
// frame intervals, or when the parent channel closes, whichever is first.
func stopAfter(parent <-chan struct{}, frames int64, interval time.Duration) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		timer := time.NewTimer(time.Duration(frames) * interval)
		defer timer.Stop()
		select {
		case <-parent:
		case <-timer.C:
			klog.Infof("Frame budget of %d frames reached", frames)
		}
	}()
	return out
}
