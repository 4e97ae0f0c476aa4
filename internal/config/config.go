// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package config is a singleton and provides global access to the
// configuration values.
package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// Default config path. It does not need to exist, default values for
	// all parameters will be used instead.
	defaultConfig = "/etc/ssdsim/config.toml"
)

var Cfg Config

// Config is the simulator's full configuration surface. It uses toml format
// for file-based configuration, and every option can be overridden by the
// environment variable named alongside it.
type Config struct {
	ConfigPath string

	ExtSize            datasize.ByteSize `toml:"ext_size" env:"SSDSIM_EXT_SIZE" env-default:"3KB" env-description:"Capacity of a single extent."`
	Threshold          int               `toml:"threshold" env:"SSDSIM_THRESHOLD" env-default:"10" env-description:"Primary obsolescence threshold percentage that makes a stripe eligible for GC."`
	SecondaryThreshold int               `toml:"secondary_threshold" env:"SSDSIM_SECONDARY_THRESHOLD" env-default:"5" env-description:"Secondary obsolescence threshold percentage an individual extent must cross for with-extents GC."`

	DataCenter struct {
		NumLocalities          int     `toml:"num_localities" env:"SSDSIM_DC_NUM_LOCALITIES" env-default:"3" env-description:"Localities per stripe, each protected by its own local parity."`
		NumDataExtsPerLocality int     `toml:"num_data_exts_per_locality" env:"SSDSIM_DC_NUM_DATA_EXTS_PER_LOCALITY" env-default:"6" env-description:"Data extents per locality."`
		NumLocalParities       int     `toml:"num_local_parities" env:"SSDSIM_DC_NUM_LOCAL_PARITIES" env-default:"1" env-description:"Local parity extents per stripe."`
		NumGlobalParities      int     `toml:"num_global_parities" env:"SSDSIM_DC_NUM_GLOBAL_PARITIES" env-default:"2" env-description:"Global parity extents per stripe."`
		CodingOverhead         float64 `toml:"coding_overhead" env:"SSDSIM_DC_CODING_OVERHEAD" env-default:"1.2857142857" env-description:"Bytes actually written per byte of data, under the configured erasure code."`
	} `toml:"data_center"`

	Sim struct {
		Time               float64 `toml:"time" env:"SSDSIM_SIM_TIME" env-default:"365" env-description:"Total simulated time units to run."`
		NumObjectsPerCycle int     `toml:"num_objects_per_cycle" env:"SSDSIM_SIM_NUM_OBJECTS_PER_CYCLE" env-default:"1000" env-description:"Objects created per simulation tick."`
		SizeSeed           int64   `toml:"size_seed" env:"SSDSIM_SIM_SIZE_SEED" env-default:"1" env-description:"RNG seed for the object-size/life sampler."`
		AddNoise           bool    `toml:"add_noise" env:"SSDSIM_SIM_ADD_NOISE" env-default:"true" env-description:"Jitter each object's computed life."`
		NoiseSeed          int64   `toml:"noise_seed" env:"SSDSIM_SIM_NOISE_SEED" env-default:"2" env-description:"RNG seed for the life-jitter noise."`
	} `toml:"sim"`

	GC struct {
		Strategy string `toml:"strategy" env:"SSDSIM_GC_STRATEGY" env-default:"no_exts" env-description:"One of no_exts, with_exts, mix_obj."`
	} `toml:"gc"`

	Packer struct {
		Policy   string `toml:"policy" env:"SSDSIM_PACKER_POLICY" env-default:"constant" env-description:"One of constant, generation, age, size."`
		Ordering string `toml:"ordering" env:"SSDSIM_PACKER_ORDERING" env-default:"fifo" env-description:"One of fifo, lifo, largest_first."`
	} `toml:"packer"`

	Striper struct {
		StripesPerCycle int  `toml:"stripes_per_cycle" env:"SSDSIM_STRIPER_STRIPES_PER_CYCLE" env-default:"0" env-description:"Stripes sealed per cycle; 0 drains the extent stack entirely."`
		EfficientEC     bool `toml:"efficient_ec" env:"SSDSIM_STRIPER_EFFICIENT_EC" env-default:"false" env-description:"Use the read-minimizing GC replacement-cost model instead of the default one."`
	} `toml:"striper"`

	ExtentStack struct {
		Variant    string `toml:"variant" env:"SSDSIM_EXTENT_STACK_VARIANT" env-default:"single" env-description:"One of single, multi, best_effort, whole_object."`
		Randomize  bool   `toml:"randomize" env:"SSDSIM_EXTENT_STACK_RANDOMIZE" env-default:"false" env-description:"Shuffle each key's queue before every pop."`
		RandomSeed int64  `toml:"random_seed" env:"SSDSIM_EXTENT_STACK_RANDOM_SEED" env-default:"3" env-description:"Seed for the extent-stack shuffle, when enabled."`
	} `toml:"extent_stack"`

	Log struct {
		Level  int  `toml:"level" env:"SSDSIM_LOG_LEVEL" env-default:"-1" env-description:"Log level."`
		Pretty bool `toml:"pretty" env:"SSDSIM_LOG_PRETTY" env-default:"true" env-description:"Pretty logging."`
	} `toml:"log"`
}

// Configure reads commandline flags and handles the configuration. The
// configuration file has the lower priority and the environment variables
// have the highest priority. It is perfectly fine to use just one of these
// or to combine them.
func Configure() error {
	flagSetup()
	return parse()
}

// parse reads the configuration file and environment variables and fills
// the Cfg structure.
func parse() error {
	if err := cleanenv.ReadConfig(Cfg.ConfigPath, &Cfg); err != nil {
		if err := cleanenv.ReadEnv(&Cfg); err != nil {
			return err
		}
	}
	return nil
}

// flagSetup handles program flags. ext_size and threshold are also exposed
// as the two positional arguments the original command line tool took, for
// drop-in compatibility: `ssdsim <ext_size> <threshold>`.
func flagSetup() {
	f := flag.NewFlagSet("ssdsim", flag.ExitOnError)
	f.StringVar(&Cfg.ConfigPath, "c", defaultConfig, "Path to configuration file")
	f.Usage = cleanenv.FUsage(f.Output(), &Cfg, nil, f.Usage)
	f.Parse(os.Args[1:])

	args := f.Args()
	if len(args) > 0 {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(args[0])); err == nil {
			Cfg.ExtSize = size
		}
	}
	if len(args) > 1 {
		if threshold, err := strconv.Atoi(args[1]); err == nil {
			Cfg.Threshold = threshold
		}
	}
}
