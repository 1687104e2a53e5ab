// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package httpsession

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ApplySocketHints sets SO_SNDBUF/SO_RCVBUF on conn from the job's
// sndbuf/rcvbuf hints (spec.md §3), generalizing the teacher's
// internal/agent/dscp.go (which only ever sets IP_TOS) to the pair of
// buffer-size hints AFD's job descriptor actually carries. A zero hint
// leaves the corresponding option untouched (OS default).
func ApplySocketHints(conn net.Conn, sndbuf, rcvbuf int) error {
	if sndbuf == 0 && rcvbuf == 0 {
		return nil
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("cannot apply socket hints: conn is %T, not *net.TCPConn", conn)
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("getting raw conn for socket hints: %w", err)
	}

	var sysErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		if sndbuf > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sndbuf); e != nil {
				sysErr = fmt.Errorf("setsockopt SO_SNDBUF=%d: %w", sndbuf, e)
				return
			}
		}
		if rcvbuf > 0 {
			if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, rcvbuf); e != nil {
				sysErr = fmt.Errorf("setsockopt SO_RCVBUF=%d: %w", rcvbuf, e)
				return
			}
		}
	})
	if ctrlErr != nil {
		return fmt.Errorf("control fd for socket hints: %w", ctrlErr)
	}
	return sysErr
}
