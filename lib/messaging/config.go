// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package messaging

import "time"

// ConnectionConfig holds the per-connection tunables. Zero values mean the
// documented defaults; util.SetDefaults applies them from the tags.
type ConnectionConfig struct {
	PingIntervalMillis       int    `xml:"pingIntervalMillis" default:"0"`
	PingTimeoutMillis        int    `xml:"pingTimeoutMillis" default:"0"`
	MaxPendingChannels       int    `xml:"maxPendingChannels" default:"100"`
	CloseNotifyTimeoutMillis int    `xml:"closeNotifyTimeoutMillis" default:"0"`
	OpenTimeoutMillis        int    `xml:"openTimeoutMillis" default:"30000"`
	MaxFrameBytes            int    `xml:"maxFrameBytes" default:"67108864"`
	MaxRecvKbps              int    `xml:"maxRecvKbps" default:"0"`
	MaxSendKbps              int    `xml:"maxSendKbps" default:"0"`
	SerializerName           string `xml:"serializerName" default:"binary"`
	Edition                  string `xml:"edition" default:"CE"`
}

func (c ConnectionConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMillis) * time.Millisecond
}

// PingTimeout defaults to the ping interval when unset.
func (c ConnectionConfig) PingTimeout() time.Duration {
	if c.PingTimeoutMillis <= 0 {
		return c.PingInterval()
	}
	return time.Duration(c.PingTimeoutMillis) * time.Millisecond
}

func (c ConnectionConfig) CloseNotifyTimeout() time.Duration {
	return time.Duration(c.CloseNotifyTimeoutMillis) * time.Millisecond
}

func (c ConnectionConfig) OpenTimeout() time.Duration {
	if c.OpenTimeoutMillis <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.OpenTimeoutMillis) * time.Millisecond
}
