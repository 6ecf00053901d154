package main

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// sendFD and recvFD mirror pkg/worker's SCM_RIGHTS fd-passing on this
// side of the control socketpair (spec.md §4.F): the worker receives
// pixel buffers by descriptor for encode requests and, symmetrically,
// could hand a decoded buffer back the same way.
func sendFD(conn *net.UnixConn, fd int) error {
	rights := unix.UnixRights(fd)
	if _, _, err := conn.WriteMsgUnix([]byte{0}, rights, nil); err != nil {
		return fmt.Errorf("codec-worker: send fd: %w", err)
	}
	return nil
}

func recvFD(conn *net.UnixConn) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return -1, fmt.Errorf("codec-worker: read ancillary message: %w", err)
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("codec-worker: parse control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return -1, fmt.Errorf("codec-worker: no control message received")
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return -1, fmt.Errorf("codec-worker: parse unix rights: %w", err)
	}
	if len(fds) == 0 {
		return -1, fmt.Errorf("codec-worker: no file descriptor received")
	}
	return fds[0], nil
}
