//go:build !(linux || darwin || freebsd || netbsd || openbsd || windows)

package applemidi

import "syscall"

func tuneSocket(network, address string, c syscall.RawConn) error {
	return nil
}
