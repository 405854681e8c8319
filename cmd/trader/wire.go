package main

import (
	"sync/atomic"

	"trading/internal/ops"
)

type runtimeConfig struct {
	v atomic.Value
}

func newRuntimeConfig(loaded ops.Loaded) *runtimeConfig {
	var rc runtimeConfig
	rc.v.Store(loaded)
	return &rc
}

func (r *runtimeConfig) Load() ops.Loaded {
	return r.v.Load().(ops.Loaded)
}

func (r *runtimeConfig) Update(loaded ops.Loaded) {
	r.v.Store(loaded)
}
