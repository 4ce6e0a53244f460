// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package moneymovement

// Version is the current version of the funding transfer service, set at build time
var Version = "v0.1.0-dev"
