// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package cache

import (
	"os"
	"strings"

	"github.com/gridlink/gridlink/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("cache", "Local cache engine")

func init() {
	l.SetDebug("cache", strings.Contains(os.Getenv("GRIDTRACE"), "cache") || os.Getenv("GRIDTRACE") == "all")
}
