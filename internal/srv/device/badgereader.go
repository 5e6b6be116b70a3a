package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jypelle/authbox/internal/srv/event"
)

// Linux input subsystem constants (linux/input-event-codes.h).
const (
	evKey      = 0x01
	keyPressed = 1
	keyEnter   = 28
	keyKPEnter = 96
)

var keyChars = map[uint16]byte{
	2: '1', 3: '2', 4: '3', 5: '4', 6: '5', 7: '6', 8: '7', 9: '8', 10: '9', 11: '0',
	30: 'A', 48: 'B', 46: 'C', 32: 'D', 18: 'E', 33: 'F',
	79: '1', 80: '2', 81: '3', 75: '4', 76: '5', 77: '6', 71: '7', 72: '8', 73: '9', 82: '0',
}

// inputEventSize is sizeof(struct input_event): a timeval of two longs
// followed by type, code and value.
var inputEventSize = 2*strconv.IntSize/8 + 8

const maxBadgeLength = 64

// HIDKeystrokingReader reads badges from a reader that behaves like a USB
// keyboard: it types the badge id then presses Enter.
// It emits (name, badge id).
type HIDKeystrokingReader struct {
	*Base
	path string
	open func(path string) (io.ReadCloser, error)

	dev   io.ReadCloser
	frame []byte
	badge strings.Builder
}

// NewHIDKeystrokingReader expects args [input event device path].
func NewHIDKeystrokingReader(queue *event.Queue, name string, args []string, handler event.Callback) (Worker, error) {
	if len(args) != 1 || args[0] == "" {
		return nil, fmt.Errorf("badge reader %s expects a device path, got %v", name, args)
	}
	r := &HIDKeystrokingReader{
		Base:  NewBase(queue, "HIDKeystrokingReader", name, handler),
		path:  args[0],
		open:  func(path string) (io.ReadCloser, error) { return os.Open(path) },
		frame: make([]byte, inputEventSize),
	}
	r.loop = Loop{Iterate: r.read}
	return r, nil
}

// read consumes one input event. Device errors drop the handle so the next
// iteration reopens it.
func (r *HIDKeystrokingReader) read(ctx context.Context) error {
	if r.dev == nil {
		dev, err := r.open(r.path)
		if err != nil {
			return fmt.Errorf("unable to open %s: %w", r.path, err)
		}
		r.log.Infof("Opened %s", r.path)
		r.dev = dev
		r.badge.Reset()
	}

	if _, err := io.ReadFull(r.dev, r.frame); err != nil {
		r.dev.Close()
		r.dev = nil
		return fmt.Errorf("unable to read %s: %w", r.path, err)
	}

	if badge, ok := r.decode(r.frame); ok {
		r.log.Debugf("Badge read")
		r.Emit(r.name, badge)
	}
	return nil
}

// decode feeds one raw input_event and returns a badge id when Enter completes it.
func (r *HIDKeystrokingReader) decode(frame []byte) (string, bool) {
	tail := frame[len(frame)-8:]
	typ := binary.LittleEndian.Uint16(tail[0:2])
	code := binary.LittleEndian.Uint16(tail[2:4])
	value := int32(binary.LittleEndian.Uint32(tail[4:8]))

	if typ != evKey || value != keyPressed {
		return "", false
	}

	switch code {
	case keyEnter, keyKPEnter:
		badge := r.badge.String()
		r.badge.Reset()
		return badge, badge != ""
	}

	if c, ok := keyChars[code]; ok {
		if r.badge.Len() >= maxBadgeLength {
			r.badge.Reset()
		}
		r.badge.WriteByte(c)
	}
	return "", false
}
