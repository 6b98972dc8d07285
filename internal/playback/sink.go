package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNoTrack is returned when a sink operation needs a started track.
var ErrNoTrack = errors.New("playback: no track loaded")

// Sink is an audio output that plays one file at a time. Implementations
// are driven from a single goroutine and deliver ended on their Scheduler.
type Sink interface {
	Start(file string, duration, offset time.Duration, speed float64, ended func()) error
	Pause()
	Resume()
	Stop()
	SetSpeed(speed float64)
	Position() time.Duration
}

// ClockSink advances a virtual play head against a Scheduler. It checks the
// file exists but produces no sound; the queue and player use it to keep
// time when no device is attached.
type ClockSink struct {
	sched Scheduler

	file     string
	duration time.Duration
	base     time.Duration
	anchor   time.Time
	speed    float64
	running  bool
	ended    func()
	cancel   func() bool
	gen      int
}

// NewClockSink creates a sink timed by s.
func NewClockSink(s Scheduler) *ClockSink {
	return &ClockSink{sched: s, speed: 1}
}

func (c *ClockSink) Start(file string, duration, offset time.Duration, speed float64, ended func()) error {
	c.Stop()
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("playback: open %s: %w", file, err)
	}
	if speed <= 0 {
		speed = 1
	}
	offset = min(max(offset, 0), duration)

	c.file = file
	c.duration = duration
	c.base = offset
	c.speed = speed
	c.ended = ended
	c.running = true
	c.anchor = c.sched.Now()
	c.arm()
	return nil
}

func (c *ClockSink) arm() {
	gen := c.gen
	remaining := time.Duration(float64(c.duration-c.base) / c.speed)
	c.cancel = c.sched.AfterFunc(max(remaining, 0), func() {
		if gen != c.gen || !c.running {
			return
		}
		c.running = false
		c.base = c.duration
		c.cancel = nil
		if c.ended != nil {
			c.ended()
		}
	})
}

func (c *ClockSink) disarm() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
}

func (c *ClockSink) Pause() {
	if !c.running {
		return
	}
	c.base = c.Position()
	c.running = false
	c.disarm()
}

func (c *ClockSink) Resume() {
	if c.running || c.file == "" || c.base >= c.duration {
		return
	}
	c.running = true
	c.anchor = c.sched.Now()
	c.arm()
}

func (c *ClockSink) Stop() {
	c.disarm()
	c.file = ""
	c.running = false
	c.base = 0
	c.duration = 0
	c.ended = nil
}

func (c *ClockSink) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	if !c.running {
		c.speed = speed
		return
	}
	c.base = c.Position()
	c.anchor = c.sched.Now()
	c.speed = speed
	c.disarm()
	c.arm()
}

func (c *ClockSink) Position() time.Duration {
	if !c.running {
		return c.base
	}
	elapsed := c.sched.Now().Sub(c.anchor)
	pos := c.base + time.Duration(float64(elapsed)*c.speed)
	return min(pos, c.duration)
}

// File returns the track currently loaded, or "".
func (c *ClockSink) File() string { return c.file }

// Playing reports whether the play head is moving.
func (c *ClockSink) Playing() bool { return c.running }

// CommandSink plays files through an external player process while a
// ClockSink keeps time. The command template may use {file}, {offset}
// (seconds) and {speed}; for example
// "ffplay -nodisp -autoexit -loglevel quiet -ss {offset} -af atempo={speed} {file}".
type CommandSink struct {
	*ClockSink
	argv   []string
	logger *slog.Logger
	proc   *exec.Cmd
}

// NewCommandSink creates a sink that runs template for every start, resume
// and speed change.
func NewCommandSink(s Scheduler, template string, logger *slog.Logger) (*CommandSink, error) {
	argv := strings.Fields(template)
	if len(argv) == 0 {
		return nil, errors.New("playback: empty player command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSink{ClockSink: NewClockSink(s), argv: argv, logger: logger}, nil
}

func (c *CommandSink) Start(file string, duration, offset time.Duration, speed float64, ended func()) error {
	c.kill()
	if err := c.ClockSink.Start(file, duration, offset, speed, ended); err != nil {
		return err
	}
	return c.spawn()
}

func (c *CommandSink) Pause() {
	c.ClockSink.Pause()
	c.kill()
}

func (c *CommandSink) Resume() {
	if c.ClockSink.Playing() {
		return
	}
	c.ClockSink.Resume()
	if c.ClockSink.Playing() {
		if err := c.spawn(); err != nil {
			c.logger.Warn("player resume failed", "file", c.File(), "error", err)
		}
	}
}

func (c *CommandSink) Stop() {
	c.kill()
	c.ClockSink.Stop()
}

func (c *CommandSink) SetSpeed(speed float64) {
	c.ClockSink.SetSpeed(speed)
	if c.ClockSink.Playing() {
		c.kill()
		if err := c.spawn(); err != nil {
			c.logger.Warn("player restart failed", "file", c.File(), "error", err)
		}
	}
}

func (c *CommandSink) spawn() error {
	r := strings.NewReplacer(
		"{file}", c.File(),
		"{offset}", strconv.FormatFloat(c.Position().Seconds(), 'f', 3, 64),
		"{speed}", strconv.FormatFloat(c.speed, 'f', 2, 64),
	)
	args := make([]string, len(c.argv))
	for i, a := range c.argv {
		args[i] = r.Replace(a)
	}
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("playback: start %s: %w", args[0], err)
	}
	c.proc = cmd
	go func() { _ = cmd.Wait() }()
	return nil
}

func (c *CommandSink) kill() {
	if c.proc == nil || c.proc.Process == nil {
		return
	}
	if err := c.proc.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Debug("player kill failed", "error", err)
	}
	c.proc = nil
}
