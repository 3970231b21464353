package fieldwatch_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/releasedeploy/fieldwatch"
	"github.com/hazyhaar/releasedeploy/fieldwatch/memdom"
)

const refA = "edd-release-deploy://owner/repo/v1.0.0/release.zip"

// row builds one repeatable row and returns the status anchor and the input.
func row(root *memdom.Node, value string) (anchor, input *memdom.Node) {
	wrap := root.Append(memdom.New("div.edd_repeatable_upload_wrapper"))
	container := wrap.Append(memdom.New("div.edd_repeatable_upload_field_container"))
	input = container.Append(memdom.New("input.edd_repeatable_upload_field"))
	input.SetValue(value)
	anchor = wrap.Append(memdom.New("span.edd-release-deploy-status"))
	return anchor, input
}

// calls records handler invocations.
type calls struct {
	mu       sync.Mutex
	urls     []string
	validate []string
}

func (c *calls) handlers() fieldwatch.Handlers {
	return fieldwatch.Handlers{
		OnURL: func(v string) {
			c.mu.Lock()
			c.urls = append(c.urls, v)
			c.mu.Unlock()
		},
		OnValidate: func(v string) {
			c.mu.Lock()
			c.validate = append(c.validate, v)
			c.mu.Unlock()
		},
	}
}

func (c *calls) snapshot() (urls, validate []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.urls...), append([]string(nil), c.validate...)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAttach_MissingElementsInert(t *testing.T) {
	ctx := context.Background()
	o := fieldwatch.New(fieldwatch.Config{Logger: quiet()}, fieldwatch.Handlers{})

	if o.Attach(ctx, nil) {
		t.Fatal("Attach(nil) should not attach")
	}

	lonely := memdom.New("span")
	if o.Attach(ctx, lonely) {
		t.Fatal("Attach without wrapper should not attach")
	}

	wrap := memdom.New("div.edd_repeatable_upload_wrapper")
	anchor := wrap.Append(memdom.New("span"))
	if o.Attach(ctx, anchor) {
		t.Fatal("Attach without field should not attach")
	}
	if o.Attached() {
		t.Fatal("observer should be inert")
	}
	o.Detach()
}

func TestEvent_PublishesImmediately(t *testing.T) {
	root := memdom.New("div")
	anchor, input := row(root, "")
	var c calls
	o := fieldwatch.New(fieldwatch.Config{PollInterval: time.Hour, Debounce: time.Hour, Logger: quiet()}, c.handlers())
	if !o.Attach(context.Background(), anchor) {
		t.Fatal("Attach failed")
	}
	defer o.Detach()

	input.Type("https://example.com/file.zip")
	waitFor(t, time.Second, func() bool { return o.CurrentURL() == "https://example.com/file.zip" })

	urls, validate := c.snapshot()
	if len(urls) != 1 || urls[0] != "https://example.com/file.zip" {
		t.Fatalf("OnURL: got %v", urls)
	}
	// Non-reference values are validated without debounce.
	if len(validate) != 1 || validate[0] != "https://example.com/file.zip" {
		t.Fatalf("OnValidate: got %v", validate)
	}
}

func TestEvent_SameValueIgnored(t *testing.T) {
	root := memdom.New("div")
	anchor, input := row(root, "a")
	var c calls
	o := fieldwatch.New(fieldwatch.Config{PollInterval: time.Hour, Logger: quiet()}, c.handlers())
	o.Attach(context.Background(), anchor)
	defer o.Detach()

	input.Dispatch("change")
	input.Dispatch("input")
	time.Sleep(30 * time.Millisecond)

	urls, validate := c.snapshot()
	if len(urls) != 0 || len(validate) != 0 {
		t.Fatalf("unchanged value triggered handlers: urls=%v validate=%v", urls, validate)
	}
	if o.Stats().Events == 0 {
		t.Fatal("events were not counted")
	}
}

func TestPoll_CatchesSilentWrites(t *testing.T) {
	root := memdom.New("div")
	anchor, input := row(root, "")
	var c calls
	o := fieldwatch.New(fieldwatch.Config{PollInterval: 50 * time.Millisecond, Debounce: time.Hour, Logger: quiet()}, c.handlers())
	o.Attach(context.Background(), anchor)
	defer o.Detach()

	input.SetValue(refA)
	if input.ListenerCount("input") != 1 {
		t.Fatal("input listener not registered")
	}

	waitFor(t, time.Second, func() bool { return o.CurrentURL() == refA })
	if o.Stats().Polls == 0 {
		t.Fatal("change was not detected by polling")
	}
}

func TestDebounce_CoalescesBurst(t *testing.T) {
	root := memdom.New("div")
	anchor, input := row(root, "")
	var c calls
	o := fieldwatch.New(fieldwatch.Config{PollInterval: time.Hour, Debounce: 80 * time.Millisecond, Logger: quiet()}, c.handlers())
	o.Attach(context.Background(), anchor)
	defer o.Detach()

	values := []string{
		"edd-release-deploy://o/r/v1/a.zip",
		"edd-release-deploy://o/r/v1/b.zip",
		"edd-release-deploy://o/r/v1/c.zip",
		"edd-release-deploy://o/r/v2/final.zip",
	}
	for _, v := range values {
		input.Type(v)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(250 * time.Millisecond)
	urls, validate := c.snapshot()
	if len(urls) != len(values) {
		t.Fatalf("OnURL: got %d calls, want %d", len(urls), len(values))
	}
	if len(validate) != 1 || validate[0] != values[len(values)-1] {
		t.Fatalf("OnValidate: got %v, want only the last value", validate)
	}
}

func TestDebounce_NonReferenceCancelsPending(t *testing.T) {
	root := memdom.New("div")
	anchor, input := row(root, "")
	var c calls
	o := fieldwatch.New(fieldwatch.Config{PollInterval: time.Hour, Debounce: 60 * time.Millisecond, Logger: quiet()}, c.handlers())
	o.Attach(context.Background(), anchor)
	defer o.Detach()

	input.Type(refA)
	time.Sleep(10 * time.Millisecond)
	input.Type("")

	time.Sleep(150 * time.Millisecond)
	_, validate := c.snapshot()
	if len(validate) != 1 || validate[0] != "" {
		t.Fatalf("OnValidate: got %q, want only the cleared value", validate)
	}
}

func TestDetach_CancelsPendingDebounce(t *testing.T) {
	root := memdom.New("div")
	anchor, input := row(root, "")
	var c calls
	o := fieldwatch.New(fieldwatch.Config{PollInterval: 10 * time.Millisecond, Debounce: 50 * time.Millisecond, Logger: quiet()}, c.handlers())
	o.Attach(context.Background(), anchor)

	input.Type(refA)
	waitFor(t, time.Second, func() bool { return o.CurrentURL() == refA })
	o.Detach()

	if input.ListenerCount("input") != 0 || input.ListenerCount("change") != 0 {
		t.Fatal("listeners survived Detach")
	}

	urlsBefore, _ := c.snapshot()
	input.SetValue("edd-release-deploy://o/r/v9/late.zip")
	input.Dispatch("change")
	time.Sleep(120 * time.Millisecond)

	urls, validate := c.snapshot()
	if len(validate) != 0 {
		t.Fatalf("OnValidate after Detach: %v", validate)
	}
	if len(urls) != len(urlsBefore) {
		t.Fatalf("OnURL after Detach: %v", urls)
	}
}

func TestContextCancelStops(t *testing.T) {
	root := memdom.New("div")
	anchor, input := row(root, "")
	var c calls
	ctx, cancel := context.WithCancel(context.Background())
	o := fieldwatch.New(fieldwatch.Config{PollInterval: 10 * time.Millisecond, Logger: quiet()}, c.handlers())
	o.Attach(ctx, anchor)

	cancel()
	waitFor(t, time.Second, func() bool { return !o.Attached() })
	input.SetValue("late")
	time.Sleep(40 * time.Millisecond)
	if urls, _ := c.snapshot(); len(urls) != 0 {
		t.Fatalf("OnURL after cancel: %v", urls)
	}
	o.Detach()
}

func TestRowsAreScoped(t *testing.T) {
	root := memdom.New("div")
	anchorA, inputA := row(root, "")
	anchorB, inputB := row(root, "")

	var ca, cb calls
	oa := fieldwatch.New(fieldwatch.Config{PollInterval: 20 * time.Millisecond, Logger: quiet()}, ca.handlers())
	ob := fieldwatch.New(fieldwatch.Config{PollInterval: 20 * time.Millisecond, Logger: quiet()}, cb.handlers())
	oa.Attach(context.Background(), anchorA)
	ob.Attach(context.Background(), anchorB)
	defer oa.Detach()
	defer ob.Detach()

	inputB.SetValue("b-only")
	waitFor(t, time.Second, func() bool { return ob.CurrentURL() == "b-only" })
	if oa.CurrentURL() != "" {
		t.Fatalf("row A saw row B's value: %q", oa.CurrentURL())
	}
	inputA.SetValue("a-only")
	waitFor(t, time.Second, func() bool { return oa.CurrentURL() == "a-only" })
	if ob.CurrentURL() != "b-only" {
		t.Fatalf("row B changed: %q", ob.CurrentURL())
	}
}

func TestReattach(t *testing.T) {
	root := memdom.New("div")
	anchor, input := row(root, "first")
	var c calls
	o := fieldwatch.New(fieldwatch.Config{PollInterval: 10 * time.Millisecond, Logger: quiet()}, c.handlers())

	o.Attach(context.Background(), anchor)
	o.Attach(context.Background(), anchor)
	defer o.Detach()

	if n := input.ListenerCount("change"); n != 1 {
		t.Fatalf("re-attach leaked listeners: %d", n)
	}
	if o.CurrentURL() != "first" {
		t.Fatalf("CurrentURL: got %q", o.CurrentURL())
	}
}

func TestPoke(t *testing.T) {
	root := memdom.New("div")
	anchor, input := row(root, "")
	o := fieldwatch.New(fieldwatch.Config{PollInterval: time.Hour, Logger: quiet()}, fieldwatch.Handlers{})
	o.Attach(context.Background(), anchor)
	defer o.Detach()

	input.SetValue("poked")
	o.Poke()
	waitFor(t, time.Second, func() bool { return o.CurrentURL() == "poked" })
}
