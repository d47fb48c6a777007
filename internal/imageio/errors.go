package imageio

import "fmt"

// ErrOpenFile represents an error when opening a file.
type ErrOpenFile struct {
	Filename string
	Err      error
}

func (e *ErrOpenFile) Error() string {
	return fmt.Sprintf("error opening file %q: %v", e.Filename, e.Err)
}

func (e *ErrOpenFile) Unwrap() error { return e.Err }

// ErrDecode represents an error when a file is not a readable TIFF image.
type ErrDecode struct {
	Filename string
	Err      error
}

func (e *ErrDecode) Error() string {
	return fmt.Sprintf("error decoding image %q: %v", e.Filename, e.Err)
}

func (e *ErrDecode) Unwrap() error { return e.Err }
