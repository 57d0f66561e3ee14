package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/pop-protocols/popsim/sim"
)

var (
	// CLI flags shared by the subcommands
	configPath    string        // Path to the YAML protocol file
	seed          int64         // Seed for the simulation random stream
	logLevel      string        // Log verbosity level
	method        string        // Engine selection: multibatch, sequential, gillespie
	until         float64       // Parallel time to simulate (0 = run to silence)
	recordEvery   float64       // Parallel time between history snapshots
	checkEvery    float64       // Parallel time between stop-condition checks
	timeout       time.Duration // Wall-clock limit for the run
	showReactions bool          // Print the reaction listing before running
	showHistory   bool          // Print every recorded snapshot, not just the last
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "popsim",
	Short: "Stochastic simulator for population protocols",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runCmd simulates one protocol from a YAML file
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one protocol to a time horizon or to silence",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := sim.LoadProtocol(configPath)
		if err != nil {
			logrus.Fatalf("Cannot load protocol: %v", err)
		}
		init, rule, order, err := cfg.Build()
		if err != nil {
			logrus.Fatalf("Invalid protocol: %v", err)
		}
		if cmd.Flags().Changed("seed") {
			cfg.Seed = seed
		}
		s, err := sim.New(init, rule, sim.Options{
			Seed:   cfg.Seed,
			Order:  order,
			Method: sim.Method(method),
		})
		if err != nil {
			logrus.Fatalf("Cannot build simulation: %v", err)
		}
		logrus.Infof("Simulating %q: n=%d, %d states", cfg.Name, s.N(), len(s.StateList()))
		if showReactions {
			fmt.Println(s.Reactions())
		}

		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		err = s.Run(ctx, sim.RunOptions{
			Until:          until,
			RecordInterval: recordEvery,
			CheckInterval:  checkEvery,
		})
		if err != nil {
			logrus.Fatalf("Run failed: %v", err)
		}
		printSummary(s, time.Since(start))
	},
}

func printSummary(s *sim.Simulation, elapsed time.Duration) {
	if showHistory {
		h := s.History()
		for k := 0; k < h.Len(); k++ {
			fmt.Printf("t=%-12.4f %v\n", h.Time(k), rowDict(s, h.Row(k)))
		}
	}
	fmt.Printf("t=%.4f (%d interactions, %s wall clock)\n", s.Time(), s.Steps(), elapsed.Round(time.Millisecond))
	fmt.Printf("config: %v\n", s.ConfigDict())
	if s.Silent() {
		fmt.Printf("silent at t=%.4f\n", s.SilentTime())
	}
	st := s.Stats()
	logrus.Infof("engine stats: blocks=%d collisions=%d batch events=%d gillespie events=%d switches=%d",
		st.Blocks, st.Collisions, st.BatchEvents, st.GillespieEvents, st.EngineSwitches)
}

func rowDict(s *sim.Simulation, row []int64) map[sim.State]int64 {
	out := make(map[sim.State]int64)
	for i, st := range s.StateList() {
		if row[i] > 0 {
			out[st] = row[i]
		}
	}
	return out
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML protocol file")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Seed for the simulation random stream (overrides the protocol file)")
	runCmd.Flags().StringVar(&method, "method", "multibatch", "Engine: multibatch, sequential or gillespie")
	runCmd.Flags().Float64Var(&until, "until", 0, "Parallel time to simulate (0 = run until silent)")
	runCmd.Flags().Float64Var(&recordEvery, "history-interval", 1, "Parallel time between history snapshots")
	runCmd.Flags().Float64Var(&checkEvery, "check-interval", 0, "Parallel time between stop-condition checks (0 = history interval)")
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "Wall-clock limit for the run (0 = none)")
	runCmd.Flags().BoolVar(&showReactions, "show-reactions", false, "Print the reaction listing before running")
	runCmd.Flags().BoolVar(&showHistory, "show-history", false, "Print every recorded snapshot")
	_ = runCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
}
