// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for wxweb.
//
// Configuration is loaded from a single file specified by either the
// WXWEB_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search. Values absent
// from the file keep their [Default].
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${WXWEB_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Durations are written the way time.ParseDuration reads them
// ("30s", "1m30s").
//
// This package depends on no other wxweb packages.
package config
