// Command gpnet runs Gaussian Process uncertainty quantification over
// pre-computed latent embeddings of material structures.
//
// The input dataset is a CSV file with one row per structure: the latent
// feature components (1, 2, or 3 of them, already reduced) followed by the
// DFT-calculated property value. Embedding extraction and dimensionality
// reduction happen upstream; this command covers the GP fitting protocols
// and the active-learning loop.
package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sciml-scd/gpnet"
)

// options is the full run configuration. Values come from defaults, then an
// optional YAML config file, then any explicitly set flags.
type options struct {
	Data     string    `yaml:"data"`
	Prop     string    `yaml:"prop"`
	OutDir   string    `yaml:"outdir"`
	NDims    int       `yaml:"ndims"`
	NoActive bool      `yaml:"noactive"`
	Repeat   bool      `yaml:"repeat"`
	Samp     string    `yaml:"samp"`
	Quota    int       `yaml:"quota"`
	Cycles   int       `yaml:"cycles"`
	Quan     int       `yaml:"quan"`
	Stop     float64   `yaml:"stop"`
	Frac     []float64 `yaml:"frac"`
	NSplit   int       `yaml:"nsplit"`
	Rate     float64   `yaml:"rate"`
	Amp      float64   `yaml:"amp"`
	Length   float64   `yaml:"length"`
	MaxIters []int     `yaml:"maxiters"`
	Seed     int64     `yaml:"seed"`
}

func defaultOptions() options {
	return options{
		Prop:     "band_gap",
		OutDir:   ".",
		NDims:    2,
		Samp:     "entropy",
		Quota:    1,
		Cycles:   5,
		Quan:     1000,
		Stop:     0.1,
		Frac:     []float64{0.3},
		NSplit:   1,
		Rate:     0.01,
		Amp:      1.0,
		Length:   1.0,
		MaxIters: []int{0},
	}
}

func main() {
	opts := defaultOptions()

	var configPath string

	root := &cobra.Command{
		Use:          "gpnet",
		Short:        "Uncertainty quantification for predicted material properties",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := loadConfig(configPath, &opts, cmd); err != nil {
					return err
				}
			}

			return run(opts)
		},
	}

	flags := root.Flags()
	flags.StringVar(&configPath, "config", "", "YAML config file; explicit flags override it")
	flags.StringVar(&opts.Data, "data", opts.Data, "input dataset CSV (features...,target per row)")
	flags.StringVar(&opts.Prop, "prop", opts.Prop, "name of the optical property of interest")
	flags.StringVar(&opts.OutDir, "outdir", opts.OutDir, "directory for result artifacts")
	flags.IntVar(&opts.NDims, "ndims", opts.NDims, "dimensions of the embedded space (1, 2, or 3)")
	flags.BoolVar(&opts.NoActive, "noactive", opts.NoActive, "don't do active learning")
	flags.BoolVar(&opts.Repeat, "repeat", opts.Repeat, "re-optimize hyperparameters in each active-learning cycle")
	flags.StringVar(&opts.Samp, "samp", opts.Samp, "sampling policy for active learning: entropy or random")
	flags.IntVar(&opts.Quota, "quota", opts.Quota, "structures to sample per cycle")
	flags.IntVar(&opts.Cycles, "cycles", opts.Cycles, "maximum number of sampling cycles")
	flags.IntVar(&opts.Quan, "quan", opts.Quan, "quantity of data in the pool for no-repeat active learning")
	flags.Float64Var(&opts.Stop, "stop", opts.Stop, "minimum fraction of the test set that must survive")
	flags.Float64SliceVar(&opts.Frac, "frac", opts.Frac, "split fractions (meaning depends on mode)")
	flags.IntVar(&opts.NSplit, "nsplit", opts.NSplit, "number of folds for cross-validation (1 = none)")
	flags.Float64Var(&opts.Rate, "rate", opts.Rate, "Adam learning rate")
	flags.Float64Var(&opts.Amp, "amp", opts.Amp, "prior on the kernel amplitude")
	flags.Float64Var(&opts.Length, "length", opts.Length, "prior on the kernel length scale")
	flags.IntSliceVar(&opts.MaxIters, "maxiters", opts.MaxIters, "iteration budgets (two for k-fold, one otherwise)")
	flags.Int64Var(&opts.Seed, "seed", opts.Seed, "seed for fold shuffling and random sampling")

	cobra.CheckErr(root.MarkFlagRequired("data"))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig overlays the YAML file, then re-applies any flag the user set
// explicitly so the command line always wins.
func loadConfig(path string, opts *options, cmd *cobra.Command) error {
	set := *opts

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	restore := map[string]func(){
		"data":     func() { opts.Data = set.Data },
		"prop":     func() { opts.Prop = set.Prop },
		"outdir":   func() { opts.OutDir = set.OutDir },
		"ndims":    func() { opts.NDims = set.NDims },
		"noactive": func() { opts.NoActive = set.NoActive },
		"repeat":   func() { opts.Repeat = set.Repeat },
		"samp":     func() { opts.Samp = set.Samp },
		"quota":    func() { opts.Quota = set.Quota },
		"cycles":   func() { opts.Cycles = set.Cycles },
		"quan":     func() { opts.Quan = set.Quan },
		"stop":     func() { opts.Stop = set.Stop },
		"frac":     func() { opts.Frac = set.Frac },
		"nsplit":   func() { opts.NSplit = set.NSplit },
		"rate":     func() { opts.Rate = set.Rate },
		"amp":      func() { opts.Amp = set.Amp },
		"length":   func() { opts.Length = set.Length },
		"maxiters": func() { opts.MaxIters = set.MaxIters },
		"seed":     func() { opts.Seed = set.Seed },
	}

	for name, f := range restore {
		if cmd.Flags().Changed(name) {
			f()
		}
	}

	return nil
}

func run(opts options) error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	full, err := loadDataset(opts.Data, opts.NDims)
	if err != nil {
		return err
	}

	log.Info("Dataset loaded",
		zap.String("prop", opts.Prop),
		zap.Int("structures", full.Len()),
		zap.Int("ndims", opts.NDims))

	if opts.NoActive {
		return runNoActive(opts, full, log)
	}

	return runActive(opts, full, log)
}

func runNoActive(opts options, full gpnet.Dataset, log *zap.Logger) error {
	log.Info("No active learning requested")

	if len(opts.Frac) != 2 {
		return fmt.Errorf("frac requires two inputs, got %d", len(opts.Frac))
	}

	if opts.Frac[0]+opts.Frac[1] != 1 {
		return fmt.Errorf("the sum of frac must be 1, got %v", opts.Frac)
	}

	pool, test, err := gpnet.SplitTrainTest(full, opts.Frac[0])
	if err != nil {
		return err
	}

	if opts.NSplit == 1 {
		sink, err := newSink(opts, "train_test_split", fmt.Sprintf("%s_results", opts.Prop))
		if err != nil {
			return err
		}

		if len(opts.MaxIters) != 1 {
			return fmt.Errorf("maxiters must have length 1, got %d", len(opts.MaxIters))
		}

		cfg := fitConfig(opts, log, sink)
		cfg.MaxIters = opts.MaxIters[0]

		res, err := gpnet.TrainTestSplit(cfg, pool, test)
		if err != nil {
			return err
		}

		log.Info("Prediction statistics",
			zap.Float64("mae", res.TestMAE),
			zap.Float64("mse", res.TestMSE),
			zap.Float64("sae", res.TestSAE),
			zap.Float64("R", res.PearsonR))

		return nil
	}

	sink, err := newSink(opts, "k_fold", fmt.Sprintf("%s_results", opts.Prop))
	if err != nil {
		return err
	}

	cvCfg := gpnet.CrossValidateConfig{
		FitConfig: fitConfig(opts, log, sink),
		Splits:    opts.NSplit,
		MaxIters:  opts.MaxIters,
		Seed:      opts.Seed,
	}

	res, err := gpnet.CrossValidate(cvCfg, pool, test)
	if err != nil {
		return err
	}

	log.Info("Cross-validation statistics",
		zap.Float64("mae", res.MeanValMAE),
		zap.Float64("mse", res.MeanValMSE),
		zap.Int("best_fold", res.BestFold),
		zap.Float64("final_mae", res.Final.TestMAE),
		zap.Float64("final_R", res.Final.PearsonR))

	return nil
}

func runActive(opts options, full gpnet.Dataset, log *zap.Logger) error {
	if opts.NSplit != 1 {
		return fmt.Errorf("active learning with k-fold cross-validation not supported")
	}

	if len(opts.MaxIters) != 1 {
		return fmt.Errorf("maxiters must have length 1, got %d", len(opts.MaxIters))
	}

	var (
		parts gpnet.Partitions
		err   error
	)

	variant := "norepeat"

	if opts.Repeat {
		variant = "repeat"

		if len(opts.Frac) != 2 {
			return fmt.Errorf("frac requires two inputs, got %d", len(opts.Frac))
		}

		parts, err = gpnet.SplitThreeWay(full, opts.Frac[0], opts.Frac[1])
		if err != nil {
			return err
		}
	} else {
		if len(opts.Frac) != 1 {
			return fmt.Errorf("frac requires a single input as the validation fraction, got %d", len(opts.Frac))
		}

		if opts.Quan <= 0 || opts.Quan >= full.Len() {
			return fmt.Errorf("quan must split the dataset, got %d of %d", opts.Quan, full.Len())
		}

		pool := gpnet.Dataset{Points: full.Points[:opts.Quan], Targets: full.Targets[:opts.Quan]}

		parts.Test = gpnet.Dataset{Points: full.Points[opts.Quan:], Targets: full.Targets[opts.Quan:]}

		parts.Train, parts.Val, err = gpnet.CarveValidation(pool, opts.Frac[0])
		if err != nil {
			return err
		}
	}

	log.Info("Partitions constructed",
		zap.Int("train", parts.Train.Len()),
		zap.Int("val", parts.Val.Len()),
		zap.Int("test", parts.Test.Len()))

	sink, err := newSink(opts, "active_learn", variant,
		fmt.Sprintf("%s_results", opts.Prop), opts.Samp)
	if err != nil {
		return err
	}

	cfg := gpnet.ActiveConfig{
		FitConfig:           fitConfig(opts, log, sink),
		Policy:              gpnet.SamplingPolicy(opts.Samp),
		Quota:               opts.Quota,
		MaxCycles:           opts.Cycles,
		StopFraction:        opts.Stop,
		ReoptimizeEachCycle: opts.Repeat,
		Seed:                opts.Seed,
	}
	cfg.MaxIters = opts.MaxIters[0]

	run, err := gpnet.RunActiveLearning(cfg, parts)
	if err != nil {
		return err
	}

	last := run.Cycles[len(run.Cycles)-1]

	log.Info("Prediction statistics",
		zap.Float64("mae", last.TestMAE),
		zap.Float64("mse", last.TestMSE),
		zap.Float64("sae", last.TestSAE),
		zap.Float64("R", last.PearsonR))

	return nil
}

func fitConfig(opts options, log *zap.Logger, sink gpnet.Sink) gpnet.FitConfig {
	return gpnet.FitConfig{
		Amplitude:    opts.Amp,
		LengthScale:  opts.Length,
		FeatureDims:  opts.NDims,
		LearningRate: opts.Rate,
		Logger:       log,
		Sink:         sink,
	}
}

func newSink(opts options, elems ...string) (gpnet.Sink, error) {
	return gpnet.NewDirSink(filepath.Join(append([]string{opts.OutDir}, elems...)...))
}

// loadDataset reads a CSV of latent rows: ndims feature components followed
// by the target property value.
func loadDataset(path string, ndims int) (gpnet.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return gpnet.Dataset{}, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return gpnet.Dataset{}, fmt.Errorf("reading dataset: %w", err)
	}

	ds := gpnet.Dataset{}

	for i, row := range rows {
		if len(row) != ndims+1 {
			return gpnet.Dataset{}, fmt.Errorf("row %d has %d columns, expected %d features plus target",
				i, len(row), ndims)
		}

		point := make([]float64, ndims)

		for j := 0; j < ndims; j++ {
			if point[j], err = strconv.ParseFloat(row[j], 64); err != nil {
				return gpnet.Dataset{}, fmt.Errorf("row %d column %d: %w", i, j, err)
			}
		}

		target, err := strconv.ParseFloat(row[ndims], 64)
		if err != nil {
			return gpnet.Dataset{}, fmt.Errorf("row %d target: %w", i, err)
		}

		ds.Points = append(ds.Points, point)
		ds.Targets = append(ds.Targets, target)
	}

	return ds, nil
}
