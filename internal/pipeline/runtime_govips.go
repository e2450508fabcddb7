//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	runtimeMu sync.Mutex
	started   bool
)

// Startup initializes libvips once per process. concurrency bounds the
// threads libvips uses per operation; 0 lets libvips decide.
func Startup(concurrency int) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if started {
		return nil
	}

	vips.LoggingSettings(nil, vips.LogLevelWarning)
	vips.Startup(&vips.Config{
		ConcurrencyLevel: max(0, concurrency),
		MaxCacheFiles:    0,
		MaxCacheMem:      128 * 1024 * 1024,
		MaxCacheSize:     100,
	})
	started = true
	return nil
}

func Shutdown() {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newTransformer() (Transformer, error) {
	if err := Startup(0); err != nil {
		return nil, err
	}
	return govipsTransformer{}, nil
}
