// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridlink",
		Subsystem: "messaging",
		Name:      "sent_bytes_total",
		Help:      "Total amount of data sent",
	}, []string{"connection"})
	metricConnSentMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridlink",
		Subsystem: "messaging",
		Name:      "sent_messages_total",
		Help:      "Total number of messages sent",
	}, []string{"connection"})

	metricConnRecvBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridlink",
		Subsystem: "messaging",
		Name:      "recv_bytes_total",
		Help:      "Total amount of data received",
	}, []string{"connection"})
	metricConnRecvMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridlink",
		Subsystem: "messaging",
		Name:      "recv_messages_total",
		Help:      "Total number of messages received",
	}, []string{"connection"})
	metricConnDroppedResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gridlink",
		Subsystem: "messaging",
		Name:      "dropped_responses_total",
		Help:      "Responses dropped because no request was pending for their ID",
	}, []string{"connection"})
)

func registerConnMetrics(connID string) {
	// Register metrics for this connection, so that counters are present
	// even when zero.
	metricConnSentBytes.WithLabelValues(connID)
	metricConnSentMessages.WithLabelValues(connID)
	metricConnRecvBytes.WithLabelValues(connID)
	metricConnRecvMessages.WithLabelValues(connID)
	metricConnDroppedResponses.WithLabelValues(connID)
}
