// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package proxy

import (
	"os"
	"strings"

	"github.com/gridlink/gridlink/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("proxy", "In-process grid proxy")

func init() {
	l.SetDebug("proxy", strings.Contains(os.Getenv("GRIDTRACE"), "proxy") || os.Getenv("GRIDTRACE") == "all")
}
