//go:build linux || darwin || freebsd || netbsd || openbsd

package applemidi

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// tuneSocket enlarges the receive buffer of a session socket and marks its
// traffic as expedited forwarding. The traffic class is best effort.
func tuneSocket(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, receiveBuffer)
		if network == "udp6" {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, dscpExpedited)
		} else {
			_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, dscpExpedited)
		}
	}); err != nil {
		return err
	}
	return serr
}
