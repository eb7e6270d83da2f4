// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the parsec
// client daemon.
//
// Configuration is loaded from a single file specified by either the
// PARSEC_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${PARSEC_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values. The keyfile
// passphrase is the one deliberate exception: it is a secret, so it is
// resolved at runtime from the environment variable or file the config
// names, never stored in the config itself.
package config
