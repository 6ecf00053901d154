// Package worker supervises the subprocess-isolated codec/audio workers
// described in spec.md §4.F: one OS process per Spawn call, talking to
// the parent over a control-protocol pipe with
// bulk buffers passed by file descriptor rather than copied.
package worker

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/xpra-go/relay/pkg/xerr"
)

// Worker is one supervised subprocess and its control channel.
type Worker struct {
	id      string
	cmd     *exec.Cmd
	conn    *net.UnixConn
	log     zerolog.Logger
	results chan Result

	running  atomic.Bool
	stopOnce sync.Once
	seq      atomic.Uint64
}

// Spawn starts binaryPath as a child process connected to the parent by
// a freshly-created unix socketpair: one end is handed to the child as
// fd 3 (its first ExtraFile), the other is kept by the parent as the
// control connection. Grounded on the teacher's GstPipeline subprocess
// lifecycle (running flag, stopOnce, buffered result channel), adapted
// from an embedded-library pipeline to an isolated OS process per
// spec.md §9's redesign flag for codec isolation.
func Spawn(ctx context.Context, binaryPath string, args []string, log zerolog.Logger) (*Worker, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, xerr.Transportf("worker: create control socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "xpra-worker-control-parent")
	childFile := os.NewFile(uintptr(fds[1]), "xpra-worker-control-child")

	cmd := exec.CommandContext(ctx, binaryPath, args...)
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		parentFile.Close()
		childFile.Close()
		return nil, xerr.ResourceExhaustedf("worker: start %s: %w", binaryPath, err)
	}
	// The child has its own dup of this fd now; the parent's copy of the
	// child-side file is no longer needed.
	childFile.Close()

	parentNetConn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, xerr.Transportf("worker: wrap control fd: %w", err)
	}
	unixConn, ok := parentNetConn.(*net.UnixConn)
	if !ok {
		_ = cmd.Process.Kill()
		return nil, xerr.Transportf("worker: control fd is not a unix socket")
	}

	w := &Worker{
		id:      fmt.Sprintf("worker-%d", cmd.Process.Pid),
		cmd:     cmd,
		conn:    unixConn,
		log:     log.With().Str("worker", binaryPath).Int("pid", cmd.Process.Pid).Logger(),
		results: make(chan Result, 8),
	}
	w.running.Store(true)
	go w.readLoop()
	return w, nil
}

// ID identifies this worker instance for logging and supervision.
func (w *Worker) ID() string { return w.id }

// Running reports whether the worker's control connection is still open.
func (w *Worker) Running() bool { return w.running.Load() }

// Results is the channel of decoded control-protocol results (encode
// output, decode output, errors) read from the worker.
func (w *Worker) Results() <-chan Result { return w.results }

// Stop closes the control connection and waits for the child to exit.
// Safe to call more than once.
func (w *Worker) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.running.Store(false)
		_ = w.conn.Close()
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
		err = w.cmd.Wait()
	})
	return err
}

func (w *Worker) nextSeq() uint64 { return w.seq.Add(1) }
