// Package netutil provides the half-close helpers used by the tunnel byte
// pumps: a connect-end frame means "no more bytes coming this direction",
// not "destroy the whole socket" — the counterpart may still have data to
// drain the other way.
package netutil

// WriteHalfCloser is implemented by bidirectional streams that support
// shutting down their write side alone, such as *net.TCPConn.
type WriteHalfCloser interface {
	CloseWrite() error
}

// HalfCloseOrClose calls CloseWrite on conn if it supports half-close,
// otherwise falls back to a full Close.
func HalfCloseOrClose(conn interface{ Close() error }) error {
	if whc, ok := conn.(WriteHalfCloser); ok {
		return whc.CloseWrite()
	}
	return conn.Close()
}
