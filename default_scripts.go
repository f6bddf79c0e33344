package sppctl

import _ "embed"

// DefaultBridgeLuaScript is used by the bridge when no --script is given.
//
//go:embed examples/bridge.lua
var DefaultBridgeLuaScript string
