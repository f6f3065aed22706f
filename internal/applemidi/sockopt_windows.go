//go:build windows

package applemidi

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// tuneSocket enlarges the receive buffer of a session socket. Windows
// ignores IP_TOS without a QoS policy, so the traffic class is left alone.
func tuneSocket(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_RCVBUF, receiveBuffer)
	}); err != nil {
		return err
	}
	return serr
}
