// internal/preprocess/errors.go
package preprocess

import "fmt"

// DecodeError reports uploaded bytes that could not be decoded as an image.
// It is caused by client input and should be surfaced as a client error.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("decode %s image: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
