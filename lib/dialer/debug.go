// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package dialer

import (
	"os"
	"strings"

	"github.com/gridlink/gridlink/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("dialer", "Endpoint dialing")

func init() {
	l.SetDebug("dialer", strings.Contains(os.Getenv("GRIDTRACE"), "dialer") || os.Getenv("GRIDTRACE") == "all")
}
