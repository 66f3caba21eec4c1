//go:build !linux && !openbsd

package journal

import "os"

// fdatasync makes the data written to f durable. Errors are not
// recoverable: the file contents may not match what was written.
func fdatasync(f *os.File) error {
	return f.Sync()
}
