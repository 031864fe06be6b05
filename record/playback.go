package record

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/matttproud/golang_protobuf_extensions/pbutil"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/structpb"

	"go.viam.com/rgbdsync/camera"
	"go.viam.com/rgbdsync/capture"
	"go.viam.com/rgbdsync/device"
	"go.viam.com/rgbdsync/imu"
	"go.viam.com/rgbdsync/logging"
	"go.viam.com/rgbdsync/rimage/transform"
)

// PlaybackState is reported to the state callback as playback progresses.
type PlaybackState int

// Playback states.
const (
	PlaybackBegin PlaybackState = iota
	PlaybackPause
	PlaybackResume
	PlaybackEnd
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackBegin:
		return "begin"
	case PlaybackPause:
		return "pause"
	case PlaybackResume:
		return "resume"
	case PlaybackEnd:
		return "end"
	}
	return "unknown"
}

// A Sink receives what a recording holds. Sink methods are called from one goroutine. OnCapture
// owns the capture and must release it.
type Sink interface {
	OnCapture(c *capture.Capture)
	OnImuSample(sensor camera.ImuSensorType, s imu.Sample)
}

// PlaybackOption configures a Playback.
type PlaybackOption func(*Playback)

// WithPlaybackClock sets the clock that paces playback.
func WithPlaybackClock(clk clock.Clock) PlaybackOption {
	return func(p *Playback) { p.clk = clk }
}

// WithStateCallback sets a callback for playback state changes.
func WithStateCallback(cb func(PlaybackState)) PlaybackOption {
	return func(p *Playback) { p.onState = cb }
}

// timedEntry is a data record with its recorded offset.
type timedEntry struct {
	entry
	offset time.Duration
}

// Playback replays a capture file at its recorded pace.
type Playback struct {
	logger  logging.Logger
	clk     clock.Clock
	path    string
	onState func(PlaybackState)

	header      Header
	info        *device.DeviceInfo
	calibration *transform.CamerasCalibration
	dataOffset  int64
	captures    int
	imuSamples  int
	duration    time.Duration

	playing atomic.Bool

	mu      sync.Mutex
	paused  bool
	pauseCh chan struct{}
	// resumeCh is closed on Resume.
	resumeCh chan struct{}
}

// Open reads the header and index of a capture file.
func Open(path string, logger logging.Logger, opts ...PlaybackOption) (*Playback, error) {
	p := &Playback{
		logger:   logger,
		clk:      clock.New(),
		path:     path,
		pauseCh:  make(chan struct{}),
		resumeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.index(); err != nil {
		return nil, errors.Wrapf(err, "cannot open capture file %q", path)
	}
	return p, nil
}

// countingReader tracks the offset of the next unread byte.
type countingReader struct {
	r *bufio.Reader
	n int64
}

func (cr *countingReader) Read(b []byte) (int, error) {
	n, err := cr.r.Read(b)
	cr.n += int64(n)
	return n, err
}

func (cr *countingReader) ReadByte() (byte, error) {
	b, err := cr.r.ReadByte()
	if err == nil {
		cr.n++
	}
	return b, err
}

func (p *Playback) index() error {
	//nolint:gosec
	f, err := os.Open(p.path)
	if err != nil {
		return err
	}
	//nolint:errcheck
	defer f.Close()

	r := &countingReader{r: bufio.NewReader(f)}
	header := &structpb.Struct{}
	if _, err := pbutil.ReadDelimited(r, header); err != nil {
		return errors.Wrap(err, "cannot read header")
	}
	if p.header, err = headerFromProto(header); err != nil {
		return err
	}
	p.dataOffset = r.n

	for {
		e, err := readEntry(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch e.kind() {
		case kindDeviceInfo:
			info := &device.DeviceInfo{}
			if err := json.Unmarshal(e.payload, info); err != nil {
				return errors.Wrap(err, "bad device info record")
			}
			p.info = info
		case kindCalibration:
			calib := &transform.CamerasCalibration{}
			if err := json.Unmarshal(e.payload, calib); err != nil {
				return errors.Wrap(err, "bad calibration record")
			}
			p.calibration = calib
		case kindCapture:
			p.captures++
			p.noteOffset(e)
		case kindImu:
			p.imuSamples++
			p.noteOffset(e)
		default:
			p.logger.Debugw("skipping unknown record", "kind", e.kind())
		}
	}
}

func (p *Playback) noteOffset(e entry) {
	if d := time.Duration(e.number("host_offset_ns")); d > p.duration {
		p.duration = d
	}
}

// Header returns the file header.
func (p *Playback) Header() Header {
	return p.header
}

// DeviceInfo returns the recorded device description, or nil if none was recorded.
func (p *Playback) DeviceInfo() *device.DeviceInfo {
	return p.info
}

// Calibration returns the recorded calibration, or nil if none was recorded.
func (p *Playback) Calibration() *transform.CamerasCalibration {
	return p.calibration
}

// Captures returns the number of captures in the file.
func (p *Playback) Captures() int {
	return p.captures
}

// ImuSamples returns the number of IMU readings in the file.
func (p *Playback) ImuSamples() int {
	return p.imuSamples
}

// Duration returns the offset of the last record.
func (p *Playback) Duration() time.Duration {
	return p.duration
}

// Pause holds delivery until Resume. It reports false if playback was already paused.
func (p *Playback) Pause() bool {
	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		return false
	}
	p.paused = true
	close(p.pauseCh)
	p.resumeCh = make(chan struct{})
	p.mu.Unlock()
	p.notify(PlaybackPause)
	return true
}

// Resume continues a paused playback. It reports false if playback was not paused.
func (p *Playback) Resume() bool {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return false
	}
	p.paused = false
	close(p.resumeCh)
	p.pauseCh = make(chan struct{})
	p.mu.Unlock()
	p.notify(PlaybackResume)
	return true
}

func (p *Playback) notify(s PlaybackState) {
	p.logger.Debugw("playback", "state", s)
	if p.onState != nil {
		p.onState(s)
	}
}

// Play delivers every record to sink, spaced as they were recorded, and returns when the file
// ends or ctx is cancelled. Only one Play may run at a time.
func (p *Playback) Play(ctx context.Context, sink Sink) error {
	if !p.playing.CompareAndSwap(false, true) {
		return camera.NewError(camera.ErrUnsupportedWhileRunning, "play", camera.Unknown, "already playing")
	}
	defer p.playing.Store(false)

	//nolint:gosec
	f, err := os.Open(p.path)
	if err != nil {
		return err
	}
	//nolint:errcheck
	defer f.Close()
	if _, err := f.Seek(p.dataOffset, io.SeekStart); err != nil {
		return err
	}

	p.notify(PlaybackBegin)
	defer p.notify(PlaybackEnd)

	entries := make(chan timedEntry, 8)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(entries)
		return readEntries(groupCtx, bufio.NewReader(f), entries)
	})
	group.Go(func() error {
		return p.pace(groupCtx, entries, sink)
	})
	return group.Wait()
}

func readEntries(ctx context.Context, r *bufio.Reader, out chan<- timedEntry) error {
	for {
		e, err := readEntry(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		kind := e.kind()
		if kind != kindCapture && kind != kindImu {
			continue
		}
		select {
		case out <- timedEntry{entry: e, offset: time.Duration(e.number("host_offset_ns"))}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Playback) pace(ctx context.Context, entries <-chan timedEntry, sink Sink) error {
	start := p.clk.Now()
	// shift is the time spent paused, added to every later deadline.
	var shift time.Duration
	for e := range entries {
		for {
			p.mu.Lock()
			paused, pauseCh, resumeCh := p.paused, p.pauseCh, p.resumeCh
			p.mu.Unlock()

			if paused {
				pausedAt := p.clk.Now()
				select {
				case <-resumeCh:
					shift += p.clk.Since(pausedAt)
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			wait := start.Add(e.offset + shift).Sub(p.clk.Now())
			if wait <= 0 {
				break
			}
			timer := p.clk.Timer(wait)
			select {
			case <-timer.C:
			case <-pauseCh:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
		if err := deliver(e.entry, sink); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func deliver(e entry, sink Sink) error {
	switch e.kind() {
	case kindCapture:
		c, err := decodeCapture(e)
		if err != nil {
			return errors.Wrap(err, "bad capture record")
		}
		sink.OnCapture(c)
	case kindImu:
		sensor, s, err := decodeImu(e)
		if err != nil {
			return errors.Wrap(err, "bad imu record")
		}
		sink.OnImuSample(sensor, s)
	}
	return nil
}
