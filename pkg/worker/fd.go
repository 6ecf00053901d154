package worker

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// sendFD passes fd to the peer as ancillary data (SCM_RIGHTS) alongside a
// single marker byte, per spec.md §4.F's bulk-buffer-by-descriptor path.
func sendFD(conn *net.UnixConn, fd int) error {
	rights := unix.UnixRights(fd)
	_, _, err := conn.WriteMsgUnix([]byte{0}, rights, nil)
	if err != nil {
		return fmt.Errorf("worker: send fd: %w", err)
	}
	return nil
}

// recvFD reads one ancillary-data message and returns the descriptor it
// carried.
func recvFD(conn *net.UnixConn) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return -1, fmt.Errorf("read ancillary message: %w", err)
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("parse control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return -1, fmt.Errorf("no control message received")
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return -1, fmt.Errorf("parse unix rights: %w", err)
	}
	if len(fds) == 0 {
		return -1, fmt.Errorf("no file descriptor received")
	}
	return fds[0], nil
}
