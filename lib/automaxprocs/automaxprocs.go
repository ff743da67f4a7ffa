// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package automaxprocs adjusts GOMAXPROCS to the container CPU quota.
// Import it for its side effect in every command main.
package automaxprocs

import (
	"os"
	"strings"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/gridlink/gridlink/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("automaxprocs", "GOMAXPROCS container quota adjustment")

func init() {
	l.SetDebug("automaxprocs", strings.Contains(os.Getenv("GRIDTRACE"), "automaxprocs") || os.Getenv("GRIDTRACE") == "all")

	maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		l.Debugf(format, args...)
	}))
}
