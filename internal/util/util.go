package util

import (
	"path/filepath"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Fingerprint identifies a registry by its cleaned absolute path. Two paths
// naming the same file through different spellings share a fingerprint.
func Fingerprint(path string) uint64 {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return murmur3.Sum64([]byte(filepath.Clean(path)))
}

// WaitGroupWrapper runs functions in goroutines tracked by one WaitGroup.
type WaitGroupWrapper struct {
	sync.WaitGroup
}

func (w *WaitGroupWrapper) Wrap(cb func()) {
	w.Add(1)
	go func() {
		cb()
		w.Done()
	}()
}
