package ffmpegdecoder

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/user/warpplayer/pkg/pipeline"
)

// backpressureWait bounds how long Receive blocks for output while the input
// queue is full. ffmpeg may still be buffering input, so the wait must end.
const backpressureWait = 20 * time.Millisecond

// process is one running ffmpeg instance. A writer goroutine feeds stdin from
// the input queue and a reader goroutine slices stdout into chunks.
type process struct {
	cmd    *exec.Cmd
	input  chan []byte
	output chan []byte
	done   chan struct{}
	stderr tail

	closeOnce sync.Once
	err       error
}

func startProcess(ffmpegPath string, args []string, chunk int, partial bool, queue int) (*process, error) {
	p := &process{
		cmd:    exec.Command(ffmpegPath, args...),
		input:  make(chan []byte, queue),
		output: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	p.cmd.Stderr = &p.stderr

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go p.write(stdin)
	go p.read(stdout, chunk, partial)
	return p, nil
}

func (p *process) write(stdin io.WriteCloser) {
	defer stdin.Close()
	for data := range p.input {
		if _, err := stdin.Write(data); err != nil {
			// ffmpeg is gone; the reader reports why.
			for range p.input {
			}
			return
		}
	}
}

func (p *process) read(stdout io.Reader, chunk int, partial bool) {
	defer close(p.done)
	defer close(p.output)

	for {
		buf := make([]byte, chunk)
		n, err := io.ReadFull(stdout, buf)
		if n == chunk || (partial && n > 0) {
			p.output <- buf[:n]
		}
		if err != nil {
			break
		}
	}
	p.err = p.cmd.Wait()
}

// closeInput ends the stream on stdin so ffmpeg flushes and exits.
func (p *process) closeInput() {
	p.closeOnce.Do(func() { close(p.input) })
}

// queueFull reports whether Send would block.
func (p *process) queueFull() bool {
	return len(p.input) == cap(p.input)
}

// stop kills the process and waits for both goroutines to finish.
func (p *process) stop() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.closeInput()
	for range p.output {
	}
	<-p.done
}

// exitError describes why the process ended.
func (p *process) exitError() error {
	if p.err == nil {
		return fmt.Errorf("%w: output ended early", ErrProcessExited)
	}
	return fmt.Errorf("%w: %v: %s", ErrProcessExited, p.err, p.stderr.String())
}

// engine runs the Send/Receive protocol over a lazily started process.
type engine struct {
	path    string
	args    []string
	chunk   int
	partial bool
	queue   int

	proc     *process
	draining bool
	drained  bool
}

func (e *engine) send(data []byte) error {
	if e.proc != nil && e.draining {
		e.proc.stop()
		e.proc = nil
	}
	if e.proc == nil {
		proc, err := startProcess(e.path, e.args, e.chunk, e.partial, e.queue)
		if err != nil {
			return err
		}
		e.proc = proc
	}
	e.draining = false
	e.drained = false

	select {
	case e.proc.input <- data:
		return nil
	default:
		return pipeline.ErrBackpressure
	}
}

func (e *engine) drain() {
	if e.proc == nil {
		e.drained = true
		return
	}
	e.draining = true
	e.proc.closeInput()
}

func (e *engine) receive() ([]byte, error) {
	if e.proc == nil {
		if e.drained {
			return nil, pipeline.ErrEndOfStream
		}
		return nil, pipeline.ErrNeedMorePackets
	}

	var (
		buf []byte
		ok  bool
	)
	switch {
	case e.draining:
		buf, ok = <-e.proc.output
	case e.proc.queueFull():
		timer := time.NewTimer(backpressureWait)
		defer timer.Stop()
		select {
		case buf, ok = <-e.proc.output:
		case <-timer.C:
			return nil, pipeline.ErrNeedMorePackets
		}
	default:
		select {
		case buf, ok = <-e.proc.output:
		default:
			return nil, pipeline.ErrNeedMorePackets
		}
	}
	if ok {
		return buf, nil
	}

	<-e.proc.done
	proc := e.proc
	proc.closeInput()
	e.proc = nil
	if e.draining {
		e.draining = false
		e.drained = true
		return nil, pipeline.ErrEndOfStream
	}
	return nil, proc.exitError()
}

func (e *engine) flush() {
	if e.proc != nil {
		e.proc.stop()
		e.proc = nil
	}
	e.draining = false
}

func (e *engine) close() {
	if e.proc != nil {
		e.proc.stop()
		e.proc = nil
	}
}
