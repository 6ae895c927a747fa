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

package bpmf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const LabelSide = "side"

var (
	IterationTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bpmf",
		Subsystem: "sampler",
		Name:      "iteration_total",
	})
	Accuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bpmf",
		Subsystem: "sampler",
		Name:      "accuracy",
	})
	MAE = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bpmf",
		Subsystem: "sampler",
		Name:      "mae",
	})
	RMSE = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bpmf",
		Subsystem: "sampler",
		Name:      "rmse",
	})
	RMSEAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bpmf",
		Subsystem: "sampler",
		Name:      "rmse_avg",
	})
	PredictionVariance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bpmf",
		Subsystem: "sampler",
		Name:      "prediction_variance",
	})
	LatentNormVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bpmf",
		Subsystem: "sampler",
		Name:      "latent_norm",
	}, []string{LabelSide})
	SamplesPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bpmf",
		Subsystem: "sampler",
		Name:      "samples_per_second",
	})
	SampleSecondsVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bpmf",
		Subsystem: "sampler",
		Name:      "sample_seconds",
	}, []string{LabelSide})
	SyncSecondsVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bpmf",
		Subsystem: "sampler",
		Name:      "sync_seconds",
	}, []string{LabelSide})
)
