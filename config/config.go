// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorse-io/bpmf/collective"
	"github.com/gorse-io/bpmf/model"
	"github.com/gorse-io/bpmf/model/bpmf"
	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	CollectiveLocal = "local"
	CollectiveRedis = "redis"
)

// Config is the configuration of a sampling run.
type Config struct {
	Model      ModelConfig      `mapstructure:"model"`
	Collective CollectiveConfig `mapstructure:"collective"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ModelConfig is the configuration of the sampler.
type ModelConfig struct {
	NumLatent   int     `mapstructure:"num_latent" validate:"gt=0"`
	Alpha       float64 `mapstructure:"alpha" validate:"gt=0"`
	NSims       int     `mapstructure:"nsims" validate:"gte=0"`
	BurnIn      int     `mapstructure:"burnin" validate:"gte=0"`
	Threshold   float64 `mapstructure:"threshold"`
	RandomState int64   `mapstructure:"random_state"`
	Jobs        int     `mapstructure:"jobs" validate:"gt=0"`
}

// CollectiveConfig is the configuration of synchronization between partitions.
type CollectiveConfig struct {
	Type           string        `mapstructure:"type" validate:"oneof=local redis"`
	RedisURL       string        `mapstructure:"redis_url" validate:"required_if=Type redis"`
	Partitions     int           `mapstructure:"partitions" validate:"gt=0"`
	Partition      int           `mapstructure:"partition" validate:"gte=0,ltfield=Partitions"`
	RunID          string        `mapstructure:"run_id" validate:"required_if=Type redis"`
	BarrierTimeout time.Duration `mapstructure:"barrier_timeout" validate:"gt=0"`
	TTL            time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// MetricsConfig is the configuration of reporting.
type MetricsConfig struct {
	Addr    string `mapstructure:"addr"`
	Summary bool   `mapstructure:"summary"`
}

// TracingConfig is the configuration of OpenTelemetry tracing.
type TracingConfig struct {
	EnableTracing     bool    `mapstructure:"enable_tracing"`
	Exporter          string  `mapstructure:"exporter" validate:"oneof=otlp otlphttp zipkin"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	Sampler           string  `mapstructure:"sampler" validate:"oneof=always never ratio"`
	Ratio             float64 `mapstructure:"ratio" validate:"gte=0,lte=1"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Alpha:     2,
			NSims:     20,
			BurnIn:    5,
			Threshold: math.Log10(200),
			Jobs:      runtime.NumCPU(),
		},
		Collective: CollectiveConfig{
			Type:           CollectiveLocal,
			Partitions:     1,
			BarrierTimeout: collective.DefaultTimeout,
			TTL:            collective.DefaultTTL,
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

// Validate checks constraints between fields after tag validation.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.NotValidf("config: %v", err)
	}
	if config.Collective.Type == CollectiveLocal && config.Collective.Partitions != 1 {
		return errors.NotValidf("%d partitions with local collective", config.Collective.Partitions)
	}
	return nil
}

// ToParams converts the model configuration to hyper-parameters.
func (config *ModelConfig) ToParams() model.Params {
	return model.Params{
		model.NumLatent:   config.NumLatent,
		model.Alpha:       config.Alpha,
		model.NSims:       config.NSims,
		model.BurnIn:      config.BurnIn,
		model.Threshold:   config.Threshold,
		model.RandomState: config.RandomState,
	}
}

func (config *ModelConfig) ToFitConfig() *bpmf.FitConfig {
	return bpmf.NewFitConfig().SetJobs(config.Jobs)
}

// NewCollective creates the collective of this partition.
func (config *CollectiveConfig) NewCollective() (collective.Collective, error) {
	switch config.Type {
	case CollectiveLocal:
		return collective.NewLocal(), nil
	case CollectiveRedis:
		return collective.NewRedis(collective.RedisOptions{
			URL:     config.RedisURL,
			RunID:   config.RunID,
			Rank:    config.Partition,
			Size:    config.Partitions,
			Timeout: config.BarrierTimeout,
			TTL:     config.TTL,
		})
	default:
		return nil, errors.NotSupportedf("collective %s", config.Type)
	}
}

// NewTracerProvider creates a tracer provider. A no-op provider is returned if tracing is disabled.
func (config *TracingConfig) NewTracerProvider() (trace.TracerProvider, error) {
	if !config.EnableTracing {
		return noop.NewTracerProvider(), nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch config.Exporter {
	case "otlp":
		exporter, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(config.CollectorEndpoint))
	case "otlphttp":
		exporter, err = otlptracehttp.New(context.Background(),
			otlptracehttp.WithInsecure(), otlptracehttp.WithEndpoint(config.CollectorEndpoint))
	case "zipkin":
		exporter, err = zipkin.New(config.CollectorEndpoint)
	default:
		return nil, errors.NotSupportedf("exporter %s", config.Exporter)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	var sampler sdktrace.Sampler
	switch config.Sampler {
	case "always":
		sampler = sdktrace.AlwaysSample()
	case "never":
		sampler = sdktrace.NeverSample()
	case "ratio":
		sampler = sdktrace.TraceIDRatioBased(config.Ratio)
	default:
		return nil, errors.NotSupportedf("sampler %s", config.Sampler)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "bpmf"))),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	), nil
}

// flagBindings maps configuration keys to command line flags.
var flagBindings = []struct {
	key  string
	flag string
}{
	{"model.num_latent", "num-latent"},
	{"model.alpha", "alpha"},
	{"model.nsims", "nsims"},
	{"model.burnin", "burnin"},
	{"model.threshold", "threshold"},
	{"model.random_state", "random-state"},
	{"model.jobs", "jobs"},
	{"collective.type", "collective"},
	{"collective.redis_url", "redis-url"},
	{"collective.partitions", "partitions"},
	{"collective.partition", "partition"},
	{"collective.run_id", "run-id"},
	{"collective.barrier_timeout", "barrier-timeout"},
	{"metrics.addr", "metrics-addr"},
	{"metrics.summary", "summary"},
}

func configKeys() []string {
	keys := []string{
		"collective.ttl",
		"tracing.enable_tracing",
		"tracing.exporter",
		"tracing.collector_endpoint",
		"tracing.sampler",
		"tracing.ratio",
	}
	for _, binding := range flagBindings {
		keys = append(keys, binding.key)
	}
	return keys
}

// AddFlags adds command line flags of configuration keys.
func AddFlags(flagSet *pflag.FlagSet) {
	defaultConfig := GetDefaultConfig()
	flagSet.Int("num-latent", 0, "number of latent dimensions")
	flagSet.Float64("alpha", defaultConfig.Model.Alpha, "precision of observed ratings")
	flagSet.Int("nsims", defaultConfig.Model.NSims, "number of samples after burn-in")
	flagSet.Int("burnin", defaultConfig.Model.BurnIn, "number of burn-in samples")
	flagSet.Float64("threshold", defaultConfig.Model.Threshold, "rating threshold of accuracy")
	flagSet.Int64("random-state", defaultConfig.Model.RandomState, "random seed")
	flagSet.IntP("jobs", "j", defaultConfig.Model.Jobs, "number of sampling workers")
	flagSet.String("collective", defaultConfig.Collective.Type, "synchronization between partitions (local, redis)")
	flagSet.String("redis-url", "", "redis server shared by partitions")
	flagSet.Int("partitions", defaultConfig.Collective.Partitions, "number of partitions")
	flagSet.Int("partition", 0, "index of this partition")
	flagSet.String("run-id", "", "identifier shared by partitions of a run")
	flagSet.Duration("barrier-timeout", defaultConfig.Collective.BarrierTimeout, "timeout of waiting for other partitions")
	flagSet.String("metrics-addr", "", "address of prometheus metrics endpoint")
	flagSet.Bool("summary", false, "print summary table after sampling")
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [model]
	v.SetDefault("model.alpha", defaultConfig.Model.Alpha)
	v.SetDefault("model.nsims", defaultConfig.Model.NSims)
	v.SetDefault("model.burnin", defaultConfig.Model.BurnIn)
	v.SetDefault("model.threshold", defaultConfig.Model.Threshold)
	v.SetDefault("model.random_state", defaultConfig.Model.RandomState)
	v.SetDefault("model.jobs", defaultConfig.Model.Jobs)
	// [collective]
	v.SetDefault("collective.type", defaultConfig.Collective.Type)
	v.SetDefault("collective.partitions", defaultConfig.Collective.Partitions)
	v.SetDefault("collective.barrier_timeout", defaultConfig.Collective.BarrierTimeout)
	v.SetDefault("collective.ttl", defaultConfig.Collective.TTL)
	// [tracing]
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

// LoadConfig loads configuration from defaults, the TOML file at path (if not empty),
// BPMF_* environment variables and flags explicitly set in flagSet (if not nil), in
// increasing precedence.
func LoadConfig(path string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefault(v)
	// bind environment variables, e.g. BPMF_MODEL_NUM_LATENT
	v.SetEnvPrefix("BPMF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Trace(err)
		}
	}
	// bind flags
	if flagSet != nil {
		for _, binding := range flagBindings {
			if flag := flagSet.Lookup(binding.flag); flag != nil {
				if err := v.BindPFlag(binding.key, flag); err != nil {
					return nil, errors.Trace(err)
				}
			}
		}
	}
	// load config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "read config %s", path)
		}
	}
	// unmarshal config file
	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, errors.Trace(err)
	}
	// validate config file
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}
