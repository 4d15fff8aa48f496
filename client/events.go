package client

import "github.com/kbralten/umdt/eventbus"

// eventKindPreflight is a client-local event kind carrying the write
// pre-flight summary. It is additive to the core kinds in
// package eventbus, not a replacement for them.
const eventKindPreflight eventbus.Kind = "preflight"
