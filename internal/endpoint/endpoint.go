// internal/endpoint/endpoint.go
package endpoint

import "io"

// Transport is the byte-stream device an endpoint owns. Real implementations
// are a serial port or a TCP connection; tests substitute an in-memory mock.
type Transport interface {
	io.ReadWriteCloser
}
