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

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorse-io/bpmf/base/encoding"
	"github.com/gorse-io/bpmf/base/log"
	"github.com/gorse-io/bpmf/base/progress"
	"github.com/gorse-io/bpmf/cmd/version"
	"github.com/gorse-io/bpmf/config"
	"github.com/gorse-io/bpmf/dataset"
	"github.com/gorse-io/bpmf/model/bpmf"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "bpmf <training_matrix> <probe_matrix>",
	Short: "Bayesian probabilistic matrix factorization by Gibbs sampling.",
	Args: func(cmd *cobra.Command, args []string) error {
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			return nil
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	Run: func(cmd *cobra.Command, args []string) {
		// Show version
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)

		// load config
		configPath, _ := cmd.PersistentFlags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath))
		conf, err := config.LoadConfig(configPath, cmd.Flags())
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}

		// setup trace provider
		tp, err := conf.Tracing.NewTracerProvider()
		if err != nil {
			log.Logger().Fatal("failed to create trace provider", zap.Error(err))
		}
		otel.SetTracerProvider(tp)
		otel.SetErrorHandler(log.GetErrorHandler())
		if shutdown, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
			defer func() {
				if err := shutdown.Shutdown(context.Background()); err != nil {
					log.Logger().Error("failed to shutdown trace provider", zap.Error(err))
				}
			}()
		}

		// serve metrics
		if conf.Metrics.Addr != "" {
			go func() {
				http.Handle("/metrics", promhttp.Handler())
				log.Logger().Info("start metrics server", zap.String("addr", conf.Metrics.Addr))
				if err := http.ListenAndServe(conf.Metrics.Addr, nil); err != nil {
					log.Logger().Error("failed to start metrics server", zap.Error(err))
				}
			}()
		}

		// load dataset
		data, err := dataset.LoadDataset(args[0], args[1])
		if err != nil {
			log.Logger().Fatal("failed to load dataset", zap.Error(err))
		}

		// connect partitions
		coll, err := conf.Collective.NewCollective()
		if err != nil {
			log.Logger().Fatal("failed to create collective", zap.Error(err))
		}
		defer func() {
			if err := coll.Close(); err != nil {
				log.Logger().Error("failed to close collective", zap.Error(err))
			}
		}()

		// stop on interrupt
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		tracer := progress.NewTracer("bpmf")
		ctx, span := tracer.Start(ctx, "bpmf", 1)

		// sample
		var diagnostics []bpmf.Diagnostics
		m := bpmf.NewBPMF(conf.Model.ToParams())
		_, err = m.Fit(ctx, data, coll, conf.Model.ToFitConfig(), func(d bpmf.Diagnostics) {
			fmt.Println(d.String())
			diagnostics = append(diagnostics, d)
		})
		if err != nil {
			span.Fail(err)
			log.Logger().Fatal("failed to fit bpmf", zap.Error(err))
		}
		span.Add(1)
		span.End()
		if conf.Metrics.Summary {
			if err = printSummary(os.Stdout, diagnostics, tracer.List()); err != nil {
				log.Logger().Error("failed to print summary", zap.Error(err))
			}
		}
	},
}

// printSummary prints post burn-in diagnostics and progress of sampling.
func printSummary(w io.Writer, diagnostics []bpmf.Diagnostics, spans []progress.Progress) error {
	table := tablewriter.NewWriter(w)
	table.Header("Iteration", "Accuracy", "MAE", "RMSE", "RMSE (avg)", "Cold")
	for _, d := range lo.Filter(diagnostics, func(d bpmf.Diagnostics, _ int) bool { return !d.BurnIn }) {
		if err := table.Append([]string{
			fmt.Sprint(d.Iteration),
			fmt.Sprintf("%.2f%%", 100*d.Accuracy),
			encoding.FormatFloat64(round(d.MAE)),
			encoding.FormatFloat64(round(d.RMSE)),
			encoding.FormatFloat64(round(d.RMSEAvg)),
			fmt.Sprint(d.NCold),
		}); err != nil {
			return errors.Trace(err)
		}
	}
	if err := table.Render(); err != nil {
		return errors.Trace(err)
	}

	table = tablewriter.NewWriter(w)
	table.Header("Task", "Status", "Count", "Total", "Elapsed")
	var appendSpans func(prefix string, spans []progress.Progress) error
	appendSpans = func(prefix string, spans []progress.Progress) error {
		for _, span := range spans {
			elapsed := time.Duration(0)
			if !span.FinishTime.IsZero() {
				elapsed = span.FinishTime.Sub(span.StartTime).Round(time.Millisecond)
			}
			if err := table.Append([]string{
				prefix + span.Name,
				string(span.Status),
				fmt.Sprint(span.Count),
				fmt.Sprint(span.Total),
				elapsed.String(),
			}); err != nil {
				return errors.Trace(err)
			}
			if err := appendSpans(prefix+"  ", span.Children); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}
	if err := appendSpans("", spans); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(table.Render())
}

func round(x float64) float64 {
	return float64(int64(x*1e4+0.5)) / 1e4
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.PersistentFlags().BoolP("version", "v", false, "bpmf version")
	config.AddFlags(rootCommand.Flags())
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
