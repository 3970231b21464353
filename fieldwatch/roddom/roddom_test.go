package roddom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/releasedeploy/fieldwatch"
)

const testHTML = `<!doctype html><html><body>
<div class="edd_repeatable_upload_wrapper">
  <div class="edd_repeatable_upload_field_container">
    <input class="edd_repeatable_upload_field" id="f0" value="edd-release-deploy://acme/widget/v1/widget.zip">
  </div>
  <span class="status" id="s0"></span>
</div>
</body></html>`

func testPage(t *testing.T) *rod.Page {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test")
	}
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no Chrome available")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(testHTML))
	}))
	t.Cleanup(srv.Close)

	u, err := launcher.New().Bin(bin).Headless(true).Launch()
	if err != nil {
		t.Skipf("launch chrome: %v", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		t.Skipf("connect chrome: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	p, err := b.Page(proto.TargetCreateTarget{URL: srv.URL})
	if err != nil {
		t.Fatalf("open page: %v", err)
	}
	if err := p.WaitLoad(); err != nil {
		t.Fatalf("wait load: %v", err)
	}
	return p
}

func TestObserverOnChrome(t *testing.T) {
	p := testPage(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge, err := NewBridge(ctx, p, nil)
	if err != nil {
		t.Fatal(err)
	}
	anchors, err := bridge.All(ctx, "#s0")
	if err != nil || len(anchors) != 1 {
		t.Fatalf("anchors: %v err=%v", anchors, err)
	}

	got := make(chan string, 4)
	o := fieldwatch.New(fieldwatch.Config{PollInterval: 50 * time.Millisecond, Debounce: 50 * time.Millisecond},
		fieldwatch.Handlers{OnURL: func(v string) { got <- v }})
	if !o.Attach(ctx, anchors[0]) {
		t.Fatal("Attach failed")
	}
	defer o.Detach()

	if o.CurrentURL() != "edd-release-deploy://acme/widget/v1/widget.zip" {
		t.Fatalf("initial value: %q", o.CurrentURL())
	}

	fields, _ := bridge.All(ctx, "#f0")
	if err := fields[0].SetValueSilently(ctx, "edd-release-deploy://acme/widget/v2/widget.zip"); err != nil {
		t.Fatal(err)
	}
	select {
	case v := <-got:
		if v != "edd-release-deploy://acme/widget/v2/widget.zip" {
			t.Fatalf("OnURL: got %q", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("silent write not observed")
	}
}
