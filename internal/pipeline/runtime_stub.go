//go:build !govips || !cgo

package pipeline

// Startup is a no-op for the pure Go imaging engine.
func Startup(int) error {
	return nil
}

func Shutdown() {}

func newTransformer() (Transformer, error) {
	return imagingTransformer{}, nil
}
