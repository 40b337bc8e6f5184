package controller

import "sync/atomic"

// Registry counts the controllers that are currently polling. Every
// controller reads it to size its interval; only the bridge changes it.
type Registry struct {
	count atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add() {
	r.count.Add(1)
}

func (r *Registry) Remove() {
	r.count.Add(-1)
}

func (r *Registry) Count() int {
	return int(r.count.Load())
}
