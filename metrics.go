package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lawRathod/minidote/node"
)

type MinidoteMetrics struct {
	Engine *node.Metrics
}

func engineCounter(name string, help string) *prometheus.Counter {

	return prometheus.NewCounterFrom(prom.CounterOpts{
		Namespace: "minidote",
		Subsystem: "engine",
		Name:      name,
		Help:      help,
	}, nil)
}

func NewMinidoteMetrics(prometheusAddr string) *MinidoteMetrics {

	m := &MinidoteMetrics{}

	if prometheusAddr == "" {
		m.Engine = node.NewDiscardMetrics()
	} else {
		m.Engine = &node.Metrics{
			Reads:             engineCounter("reads_total", "Number of read requests"),
			Updates:           engineCounter("updates_total", "Number of update batches"),
			FailedUpdates:     engineCounter("failed_updates_total", "Number of rejected or failed update batches"),
			AppliedBatches:    engineCounter("applied_batches_total", "Number of locally applied update batches"),
			EnvelopesApplied:  engineCounter("envelopes_applied_total", "Number of remote envelopes applied"),
			EnvelopesBuffered: engineCounter("envelopes_buffered_total", "Number of remote envelopes buffered for causal order"),
			EnvelopesDropped:  engineCounter("envelopes_dropped_total", "Number of duplicate remote envelopes dropped"),
			GatedRequests:     engineCounter("gated_requests_total", "Number of client requests gated on causal dependencies"),
			CausalTimeouts:    engineCounter("causal_timeouts_total", "Number of requests failed on the causal wait deadline"),
			WALAppends:        engineCounter("wal_appends_total", "Number of batches durably appended to the operation log"),
			Snapshots:         engineCounter("snapshots_total", "Number of snapshots written"),
		}
	}

	return m
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	http.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
