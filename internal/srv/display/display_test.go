package display

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jypelle/authbox/internal/srv/dispatch"
	"github.com/jypelle/authbox/internal/srv/event"
	"github.com/jypelle/authbox/internal/srv/scheduler"
)

type op struct {
	at   time.Time
	text string
}

// recordingDriver keeps every hardware call, in order.
type recordingDriver struct {
	mu      sync.Mutex
	ops     []op
	failing bool
}

func (r *recordingDriver) record(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing {
		return errors.New("i2c: no ack")
	}
	r.ops = append(r.ops, op{at: time.Now(), text: text})
	return nil
}

func (r *recordingDriver) Clear() error             { return r.record("clear") }
func (r *recordingDriver) Move(line, col int) error { return r.record(fmt.Sprintf("move %d %d", line, col)) }
func (r *recordingDriver) Write(text string) error  { return r.record("write " + text) }

func (r *recordingDriver) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ops))
	for i, o := range r.ops {
		out[i] = o.text
	}
	r.ops = nil
	return out
}

func (r *recordingDriver) snapshot() []op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]op(nil), r.ops...)
}

func testConfig() *Config {
	return &Config{States: map[string]State{
		"idle":  {},
		"two":   {Lines: []string{"Hello", "{name}"}},
		"twoB":  {Lines: []string{"Hello", "World"}},
		"three": {Lines: []string{"a", "b", "c"}},
		"other": {Lines: []string{"Bye", "Now"}},
		"clock": {Lines: []string{"Time", "{time}"}, Refresh: Duration(20 * time.Millisecond)},
		"seq": {Seq: []Frame{
			{Lines: []string{"frame0"}, Duration: Duration(300 * time.Millisecond)},
			{Lines: []string{"frame1"}, Duration: Duration(500 * time.Millisecond)},
		}},
		"ticker": {Seq: []Frame{
			{Lines: []string{"{time}"}, Refresh: Duration(20 * time.Millisecond)},
		}},
		"sticky": {Seq: []Frame{
			{Lines: []string{"first"}},
			{Lines: []string{"never"}, Duration: Duration(time.Millisecond)},
		}},
	}}
}

func newTestDisplay() (*CharacterDisplay, *recordingDriver) {
	driver := &recordingDriver{}
	d := New(NewTextDriver(driver, 16), testConfig(), scheduler.New(), event.NewQueue(0))
	return d, driver
}

func equal(a, b []string) bool {
	return strings.Join(a, "\n") == strings.Join(b, "\n")
}

func TestSetStateRendersStaticLines(t *testing.T) {
	d, driver := newTestDisplay()

	if err := d.SetState("two", Bindings{"name": Literal("Ada")}); err != nil {
		t.Fatal(err)
	}
	want := []string{"clear", "move 0 0", "write Hello", "move 1 0", "write Ada"}
	if got := driver.take(); !equal(got, want) {
		t.Errorf("ops = %q, want %q", got, want)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	d, driver := newTestDisplay()

	if err := d.SetState("two", Bindings{"name": Literal("Ada")}); err != nil {
		t.Fatal(err)
	}
	driver.take()
	if err := d.refresh(); err != nil {
		t.Fatal(err)
	}
	if got := driver.take(); len(got) != 0 {
		t.Errorf("second refresh issued %q", got)
	}
}

func TestIdleTwiceWritesOnce(t *testing.T) {
	d, driver := newTestDisplay()

	if err := d.SetState("idle", nil); err != nil {
		t.Fatal(err)
	}
	first := driver.take()
	if !equal(first, []string{"clear"}) {
		t.Errorf("first idle = %q, want a single clear", first)
	}
	if err := d.SetState("idle", nil); err != nil {
		t.Fatal(err)
	}
	if got := driver.take(); len(got) != 0 {
		t.Errorf("second idle issued %q", got)
	}
}

func TestOnlyChangedLinesAreWritten(t *testing.T) {
	d, driver := newTestDisplay()

	if err := d.SetState("two", Bindings{"name": Literal("Ada")}); err != nil {
		t.Fatal(err)
	}
	driver.take()

	if err := d.SetState("twoB", nil); err != nil {
		t.Fatal(err)
	}
	want := []string{"move 1 0", "write World"}
	if got := driver.take(); !equal(got, want) {
		t.Errorf("ops = %q, want %q", got, want)
	}
}

func TestShorterLineIsPadded(t *testing.T) {
	d, driver := newTestDisplay()

	if err := d.SetState("two", Bindings{"name": Literal("Lovelace")}); err != nil {
		t.Fatal(err)
	}
	driver.take()
	if err := d.SetState("two", Bindings{"name": Literal("Ada")}); err != nil {
		t.Fatal(err)
	}
	want := []string{"move 1 0", "write Ada     "}
	if got := driver.take(); !equal(got, want) {
		t.Errorf("ops = %q, want %q", got, want)
	}
}

func TestLineCountChangeClears(t *testing.T) {
	d, driver := newTestDisplay()

	if err := d.SetState("twoB", nil); err != nil {
		t.Fatal(err)
	}
	driver.take()

	if err := d.SetState("three", nil); err != nil {
		t.Fatal(err)
	}
	want := []string{"clear", "move 0 0", "write a", "move 1 0", "write b", "move 2 0", "write c"}
	if got := driver.take(); !equal(got, want) {
		t.Errorf("ops = %q, want %q", got, want)
	}
	if len(d.rendered) != 3 {
		t.Errorf("cache holds %d lines, want 3", len(d.rendered))
	}
}

func TestNoMatchingLineClears(t *testing.T) {
	d, driver := newTestDisplay()

	if err := d.SetState("twoB", nil); err != nil {
		t.Fatal(err)
	}
	driver.take()

	if err := d.SetState("other", nil); err != nil {
		t.Fatal(err)
	}
	got := driver.take()
	if len(got) == 0 || got[0] != "clear" {
		t.Errorf("ops = %q, want a clear first", got)
	}
}

func TestFullClearPredicate(t *testing.T) {
	tests := []struct {
		name     string
		new, old []string
		clear    bool
	}{
		{"count differs", []string{"a"}, []string{"a", "b"}, true},
		{"no position matches", []string{"x", "y"}, []string{"a", "b"}, true},
		{"one position matches", []string{"a", "y"}, []string{"a", "b"}, false},
		{"swapped lines", []string{"b", "a"}, []string{"a", "b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(tt.new) != len(tt.old) || !anyLineMatches(tt.new, tt.old)
			if got != tt.clear {
				t.Errorf("clear = %v, want %v", got, tt.clear)
			}
		})
	}
}

func TestFuncBindingEvaluatedOnEveryRender(t *testing.T) {
	d, driver := newTestDisplay()

	n := 0
	counter := Func(func() string { n++; return fmt.Sprint(n) })
	if err := d.SetState("two", Bindings{"name": counter}); err != nil {
		t.Fatal(err)
	}
	driver.take()
	if err := d.refresh(); err != nil {
		t.Fatal(err)
	}
	want := []string{"move 1 0", "write 2"}
	if got := driver.take(); !equal(got, want) {
		t.Errorf("ops = %q, want %q", got, want)
	}
}

func TestUnknownState(t *testing.T) {
	d, _ := newTestDisplay()
	if err := d.SetState("nope", nil); !errors.Is(err, ErrUnknownState) {
		t.Errorf("err = %v, want ErrUnknownState", err)
	}
}

func TestMissingBinding(t *testing.T) {
	d, _ := newTestDisplay()
	if err := d.SetState("two", nil); !errors.Is(err, ErrMissingBinding) {
		t.Errorf("err = %v, want ErrMissingBinding", err)
	}
}

func TestDriverFailureForcesRedraw(t *testing.T) {
	d, driver := newTestDisplay()

	if err := d.SetState("twoB", nil); err != nil {
		t.Fatal(err)
	}
	driver.take()

	driver.failing = true
	if err := d.SetState("two", Bindings{"name": Literal("Ada")}); err == nil {
		t.Fatal("expected a driver error")
	}
	driver.failing = false

	if err := d.refresh(); err != nil {
		t.Fatal(err)
	}
	got := driver.take()
	if len(got) == 0 || got[0] != "clear" {
		t.Errorf("ops after failure = %q, want a full redraw", got)
	}
}

func TestZeroDurationFrameNeverAdvances(t *testing.T) {
	d, driver := newTestDisplay()

	if err := d.SetState("sticky", nil); err != nil {
		t.Fatal(err)
	}
	if d.frame != 0 {
		t.Errorf("frame = %d, want 0", d.frame)
	}
	want := []string{"clear", "move 0 0", "write first"}
	if got := driver.take(); !equal(got, want) {
		t.Errorf("ops = %q, want %q", got, want)
	}
	if d.frameAdvance.Cancel() {
		t.Error("a frame without duration armed an advance timer")
	}
}

// runLoop runs a dispatcher and a scheduler for the duration of the test.
func runLoop(t *testing.T) (*event.Queue, *scheduler.Scheduler) {
	t.Helper()
	queue := event.NewQueue(0)
	sched := scheduler.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sched.Run(ctx)
	go dispatch.New(queue, dispatch.Registry{}).Run(ctx)
	return queue, sched
}

// setState pushes SetState as an action, like the application does.
func setState(queue *event.Queue, d *CharacterDisplay, name string, bindings Bindings) {
	queue.Push(event.NewAction("set state", func(...interface{}) error {
		return d.SetState(name, bindings)
	}))
}

func TestSequenceAdvancesOnFrameDurations(t *testing.T) {
	queue, sched := runLoop(t)
	driver := &recordingDriver{}
	d := New(NewTextDriver(driver, 16), testConfig(), sched, queue)

	start := time.Now()
	setState(queue, d, "seq", nil)
	time.Sleep(1100 * time.Millisecond)

	var writes []op
	for _, o := range driver.snapshot() {
		if strings.HasPrefix(o.text, "write ") {
			writes = append(writes, o)
		}
	}
	if len(writes) < 3 {
		t.Fatalf("writes = %v, want at least 3 frames rendered", writes)
	}

	const tolerance = 100 * time.Millisecond
	expect := []struct {
		text string
		at   time.Duration
	}{
		{"write frame0", 0},
		{"write frame1", 300 * time.Millisecond},
		{"write frame0", 800 * time.Millisecond},
	}
	for i, e := range expect {
		if writes[i].text != e.text {
			t.Errorf("write %d = %q, want %q", i, writes[i].text, e.text)
		}
		offset := writes[i].at.Sub(start)
		if offset < e.at-tolerance || offset > e.at+tolerance {
			t.Errorf("write %d at %v, want %v ± %v", i, offset, e.at, tolerance)
		}
	}
}

func TestStateRefreshTicksUntilStateChanges(t *testing.T) {
	queue, sched := runLoop(t)
	driver := &recordingDriver{}
	d := New(NewTextDriver(driver, 16), testConfig(), sched, queue)

	var mu sync.Mutex
	n := 0
	clock := Func(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprint(n)
	})

	setState(queue, d, "clock", Bindings{"time": clock})
	time.Sleep(110 * time.Millisecond)
	setState(queue, d, "twoB", nil)
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	renders := n
	mu.Unlock()
	if renders < 3 {
		t.Errorf("clock evaluated %d times, want periodic renders", renders)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	after := n
	mu.Unlock()
	if after != renders {
		t.Errorf("clock still evaluated after state change: %d -> %d", renders, after)
	}
}

func TestFrameRefreshTicksWithinFrame(t *testing.T) {
	queue, sched := runLoop(t)
	driver := &recordingDriver{}
	d := New(NewTextDriver(driver, 16), testConfig(), sched, queue)

	var mu sync.Mutex
	n := 0
	clock := Func(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprint(n)
	})

	setState(queue, d, "ticker", Bindings{"time": clock})
	time.Sleep(110 * time.Millisecond)
	setState(queue, d, "twoB", nil)
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	renders := n
	mu.Unlock()
	if renders < 3 {
		t.Errorf("clock evaluated %d times, want the frame refreshed", renders)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	after := n
	mu.Unlock()
	if after != renders {
		t.Errorf("frame still refreshed after state change: %d -> %d", renders, after)
	}
}

func TestSetStateCancelsSequenceAdvance(t *testing.T) {
	queue, sched := runLoop(t)
	driver := &recordingDriver{}
	d := New(NewTextDriver(driver, 16), testConfig(), sched, queue)

	setState(queue, d, "seq", nil)
	time.Sleep(100 * time.Millisecond)
	setState(queue, d, "twoB", nil)
	time.Sleep(900 * time.Millisecond)

	var frames []string
	for _, o := range driver.snapshot() {
		if strings.HasPrefix(o.text, "write frame") {
			frames = append(frames, o.text)
		}
	}
	if !equal(frames, []string{"write frame0"}) {
		t.Errorf("frame writes = %q, want only the first frame", frames)
	}
}

func TestWriteLineTruncatesOnRunes(t *testing.T) {
	driver := &recordingDriver{}
	text := NewTextDriver(driver, 4)

	if err := text.WriteLine(1, "Zoë Été"); err != nil {
		t.Fatal(err)
	}
	want := []string{"move 1 0", "write Zoë "}
	if got := driver.take(); !equal(got, want) {
		t.Errorf("ops = %q, want %q", got, want)
	}
}
