package config

import "errors"

// ErrConfigMissing is returned by ConfigRegistry.Lookup for a task that has
// no bound model configuration. Pipeline-level error handling wraps this
// into the typed ConfigMissing error exposed to callers.
var ErrConfigMissing = errors.New("config missing")
