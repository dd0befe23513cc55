// Package consoleui implements playback controls on a terminal: seek
// percentages typed on stdin, scripted seeks and a status line.
package consoleui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/user/warpplayer/pkg/pipeline"
	"github.com/user/warpplayer/pkg/ports"
)

// ErrBadScript is returned for malformed scripted seek entries.
var ErrBadScript = errors.New("consoleui: invalid seek script entry")

// ScriptEntry requests a seek to Percent once playback reaches After.
type ScriptEntry struct {
	After   time.Duration
	Percent float64
}

// ParseScript parses "after=percent" entries such as "2s=50" or "1.5=25".
// A bare number for after is read as seconds.
func ParseScript(entries []string) ([]ScriptEntry, error) {
	script := make([]ScriptEntry, 0, len(entries))
	for _, e := range entries {
		after, percent, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBadScript, e)
		}
		d, err := parseAfter(strings.TrimSpace(after))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadScript, e, err)
		}
		p, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(percent), "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadScript, e, err)
		}
		script = append(script, ScriptEntry{After: d, Percent: p})
	}
	sort.SliceStable(script, func(i, j int) bool { return script[i].After < script[j].After })
	return script, nil
}

func parseAfter(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, errors.New("negative time")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("negative time")
	}
	return d, nil
}

// Options configures a Console.
type Options struct {
	// In supplies seek commands, one per line. Nil disables interactive input.
	In io.Reader
	// Out receives the status line.
	Out io.Writer
	// Status enables the status line. Use IsTerminal to decide.
	Status bool
	// Script lists seeks triggered by playback position, in order.
	Script []ScriptEntry
	// Cancel is called when the user types q.
	Cancel context.CancelFunc
	Logger ports.Logger
}

// Console implements ports.Controls.
type Console struct {
	opts Options
	log  ports.Logger

	mu       sync.Mutex
	pending  *float64
	script   []ScriptEntry
	lastLine string
}

// New creates a console controller.
func New(opts Options) *Console {
	c := &Console{opts: opts, script: append([]ScriptEntry(nil), opts.Script...)}
	if opts.Logger != nil {
		c.log = opts.Logger.WithComponent("consoleui")
	}
	return c
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Update fires due scripted seeks and redraws the status line.
func (c *Console) Update(position, duration time.Duration) {
	c.mu.Lock()
	for len(c.script) > 0 && c.script[0].After <= position {
		p := c.script[0].Percent
		c.pending = &p
		c.script = c.script[1:]
		if c.log != nil {
			c.log.Debug("Scripted seek to %.1f%% at %v", p, position)
		}
	}
	if !c.opts.Status || c.opts.Out == nil {
		c.mu.Unlock()
		return
	}
	line := statusLine(position, duration)
	changed := line != c.lastLine
	c.lastLine = line
	c.mu.Unlock()

	if changed {
		fmt.Fprintf(c.opts.Out, "\r%s", line)
	}
}

func statusLine(position, duration time.Duration) string {
	percent := 0.0
	if duration > 0 {
		percent = float64(position) * 100 / float64(duration)
	}
	return fmt.Sprintf("%s / %s (%5.1f%%)", pipeline.FormatClock(position), pipeline.FormatClock(duration), percent)
}

// PollSeek returns the most recent seek request and clears it.
func (c *Console) PollSeek() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return 0, false
	}
	p := *c.pending
	c.pending = nil
	return p, true
}

// Request queues a seek percentage. Later requests replace earlier ones.
func (c *Console) Request(percent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &percent
}

// Run reads commands until ctx is cancelled. A number requests a seek to
// that percentage; q cancels playback. The reader goroutine stays blocked
// on input after ctx ends until the next line or EOF arrives.
func (c *Console) Run(ctx context.Context) error {
	if c.opts.In == nil {
		<-ctx.Done()
		return nil
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			c.handle(strings.TrimSpace(line))
		}
	}
}

func (c *Console) handle(line string) {
	switch line {
	case "":
		return
	case "q", "quit":
		if c.opts.Cancel != nil {
			c.opts.Cancel()
		}
		return
	}
	p, err := strconv.ParseFloat(strings.TrimSuffix(line, "%"), 64)
	if err != nil {
		if c.log != nil {
			c.log.Warn("Ignoring input %q: expected a percentage or q", line)
		}
		return
	}
	c.Request(p)
}

// Finish ends the status line.
func (c *Console) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.Status && c.opts.Out != nil && c.lastLine != "" {
		fmt.Fprintln(c.opts.Out)
	}
}

var _ ports.Controls = (*Console)(nil)
