// Package embedded provides the hook manifest compiled into the ao binary.
// It is the fallback when no hooks.json is found on disk.
package embedded

import _ "embed"

// HooksJSON contains the raw hooks.json manifest. Commands reference the
// binary as "ao".
//
//go:embed hooks.json
var HooksJSON []byte
