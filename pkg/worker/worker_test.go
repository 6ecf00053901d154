package worker

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xpra-go/relay/pkg/wire"
)

func unixConnPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	f0 := os.NewFile(uintptr(fds[0]), "a")
	f1 := os.NewFile(uintptr(fds[1]), "b")
	c0, err := net.FileConn(f0)
	require.NoError(t, err)
	f0.Close()
	c1, err := net.FileConn(f1)
	require.NoError(t, err)
	f1.Close()

	return c0.(*net.UnixConn), c1.(*net.UnixConn)
}

func TestSendRecvFDRoundTrip(t *testing.T) {
	a, b := unixConnPair(t)
	defer a.Close()
	defer b.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "worker-fd-*")
	require.NoError(t, err)
	defer tmp.Close()
	_, err = tmp.WriteString("payload")
	require.NoError(t, err)

	require.NoError(t, sendFD(a, int(tmp.Fd())))

	gotFD, err := recvFD(b)
	require.NoError(t, err)
	defer unix.Close(gotFD)

	received := os.NewFile(uintptr(gotFD), "received")
	defer received.Close()
	_, err = received.Seek(0, 0)
	require.NoError(t, err)
	buf := make([]byte, 7)
	n, err := received.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf[:n]))
}

func TestToResultParsesEncodeResult(t *testing.T) {
	w := &Worker{}
	pkt := wire.NewPacket(PacketEncodeResult,
		wire.Int(7), wire.String("h264"), wire.Int(1920), wire.Int(1080), wire.Bool(true), wire.Bool(false))
	r := w.toResult(pkt)
	require.Equal(t, uint64(7), r.Seq)
	require.Equal(t, "h264", r.Codec)
	require.Equal(t, 1920, r.Width)
	require.Equal(t, 1080, r.Height)
	require.True(t, r.IsKeyframe)
	require.Equal(t, -1, r.FD)
}

func TestToResultParsesWorkerError(t *testing.T) {
	w := &Worker{}
	pkt := wire.NewPacket(PacketWorkerError, wire.String("codec init failed"))
	r := w.toResult(pkt)
	require.Error(t, r.Err)
}
