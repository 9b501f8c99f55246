package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/iot-module/internal/device"
	"github.com/sweeney/iot-module/internal/gpio"
	"github.com/sweeney/iot-module/internal/mqtt"
	"github.com/sweeney/iot-module/internal/ota"
	"github.com/sweeney/iot-module/internal/presence"
	"github.com/sweeney/iot-module/internal/web"
)

type node struct {
	rt        *device.Runtime
	pub       *mqtt.FakePublisher
	reader    *gpio.FakeReader
	web       *httptest.Server
	uploadURL string
	firmware  string
}

func startNode(t *testing.T, password string, samples ...bool) *node {
	t.Helper()
	dir := t.TempDir()
	n := &node{
		pub:      mqtt.NewFakePublisher(),
		reader:   gpio.NewFakeReader(samples...),
		firmware: filepath.Join(dir, "firmware.bin"),
	}

	cfg := ota.ServerConfig{
		FirmwarePath:   n.firmware,
		FilesystemPath: filepath.Join(dir, "fs.img"),
		AcceptTimeout:  50 * time.Millisecond,
	}
	if password != "" {
		cfg.PasswordMD5 = ota.HashPassword(password)
	}
	uploads := ota.NewServer("127.0.0.1:0", cfg)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go uploads.Serve(ln)
	t.Cleanup(func() { uploads.Shutdown(context.Background()) })
	n.uploadURL = "http://" + ln.Addr().String() + "/upload"

	dispatcher := web.NewDispatcher(time.Second)
	app := presence.New(n.reader, n.pub, 0)
	n.rt = device.New(app, dispatcher, uploads, n.pub, &device.FakeRestarter{}, device.Options{
		Hostname: "node-1",
		BootID:   "boot-1",
	})
	if err := n.rt.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	n.web = httptest.NewServer(dispatcher)
	t.Cleanup(n.web.Close)
	return n
}

// pump runs loop iterations on the test goroutine until done yields.
func pump[T any](t *testing.T, n *node, done <-chan T) T {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case v := <-done:
			return v
		case <-timeout:
			t.Fatal("timed out waiting for the loop")
		default:
			if err := n.rt.Iterate(context.Background()); err != nil {
				t.Fatalf("Iterate: %v", err)
			}
			time.Sleep(time.Millisecond)
		}
	}
}

type httpResult struct {
	code int
	body string
	err  error
}

func do(req *http.Request) httpResult {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return httpResult{err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return httpResult{code: resp.StatusCode, body: string(b)}
}

func (n *node) get(t *testing.T, path string) httpResult {
	t.Helper()
	done := make(chan httpResult, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, n.web.URL+path, nil)
		done <- do(req)
	}()
	r := pump(t, n, done)
	if r.err != nil {
		t.Fatalf("GET %s: %v", path, r.err)
	}
	return r
}

// uploadUntilAccepted retries the upload until the device is in a
// maintenance window and answers with something other than 503.
func uploadUntilAccepted(url string, image []byte, auth string) <-chan httpResult {
	done := make(chan httpResult, 1)
	go func() {
		deadline := time.Now().Add(8 * time.Second)
		for {
			req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(image))
			if auth != "" {
				req.Header.Set(ota.AuthHeader, auth)
			}
			r := do(req)
			if r.err != nil || r.code != http.StatusServiceUnavailable || time.Now().After(deadline) {
				done <- r
				return
			}
		}
	}()
	return done
}

func TestIntegrationStateDocument(t *testing.T) {
	n := startNode(t, "", false)

	r := n.get(t, "/state")
	if r.code != http.StatusOK {
		t.Fatalf("status: got %d", r.code)
	}
	var doc struct {
		State    map[string]any
		Settings map[string]any
	}
	if err := json.Unmarshal([]byte(r.body), &doc); err != nil {
		t.Fatalf("invalid JSON %q: %v", r.body, err)
	}
	if doc.State["Module host name"] != "node-1" {
		t.Errorf("host name: got %v", doc.State["Module host name"])
	}
	if doc.State["Motion"] != false {
		t.Errorf("Motion: got %v", doc.State["Motion"])
	}
	if doc.Settings["Motion hold ms"] != float64(0) {
		t.Errorf("Motion hold ms: got %v", doc.Settings["Motion hold ms"])
	}
}

func TestIntegrationSettingsThenState(t *testing.T) {
	n := startNode(t, "", false)

	r := n.get(t, "/settings?Motion%20hold%20ms=250&Sensor%20enabled=false")
	if r.code != http.StatusOK {
		t.Fatalf("status: got %d", r.code)
	}

	r = n.get(t, "/state")
	var doc struct{ Settings map[string]any }
	if err := json.Unmarshal([]byte(r.body), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.Settings["Motion hold ms"] != float64(250) {
		t.Errorf("hold: got %v", doc.Settings["Motion hold ms"])
	}
	if doc.Settings["Sensor enabled"] != false {
		t.Errorf("enabled: got %v", doc.Settings["Sensor enabled"])
	}
}

func TestIntegrationMotionEvents(t *testing.T) {
	n := startNode(t, "", true, true, false)

	for i := 0; i < 3; i++ {
		n.rt.Iterate(context.Background())
	}

	if len(n.pub.Events) != 2 {
		t.Fatalf("events: got %+v", n.pub.Events)
	}
	var parsed mqtt.Payload
	if err := json.Unmarshal(n.pub.Payloads[0], &parsed); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if parsed.Event.Type != "MOTION_START" || parsed.Event.Source != "motion" || !parsed.Event.Value {
		t.Errorf("payload: got %+v", parsed.Event)
	}
}

func TestIntegrationFirmwareUpload(t *testing.T) {
	n := startNode(t, "secret", false)
	image := bytes.Repeat([]byte("firmware"), 2048)

	uploaded := uploadUntilAccepted(n.uploadURL+"?command=flash", image, ota.HashPassword("secret"))

	r := n.get(t, "/firmware_update")
	if r.code != http.StatusOK || r.body != "Firmware update mode started..." {
		t.Fatalf("trigger: got %d %q", r.code, r.body)
	}

	res := pump(t, n, uploaded)
	if res.err != nil {
		t.Fatalf("upload: %v", res.err)
	}
	if res.code != http.StatusOK {
		t.Fatalf("upload status: got %d %q", res.code, res.body)
	}

	got, err := os.ReadFile(n.firmware)
	if err != nil {
		t.Fatalf("read firmware: %v", err)
	}
	if !bytes.Equal(got, image) {
		t.Errorf("firmware: got %d bytes, want %d", len(got), len(image))
	}

	// Allow the window to close if the reply raced the loop.
	for i := 0; i < 3 && len(n.pub.SystemEvents) < 2; i++ {
		n.rt.Iterate(context.Background())
	}
	names := n.pub.SystemEventNames()
	if len(names) != 2 || names[0] != "MAINTENANCE_START" || names[1] != "MAINTENANCE_END" {
		t.Fatalf("system events: got %v", names)
	}
	if n.pub.SystemEvents[1].Reason != "completed" {
		t.Errorf("reason: got %q, want completed", n.pub.SystemEvents[1].Reason)
	}
}

func TestIntegrationUploadRejectedOutsideWindow(t *testing.T) {
	n := startNode(t, "", false)

	req, _ := http.NewRequest(http.MethodPost, n.uploadURL, bytes.NewReader([]byte("x")))
	r := do(req)
	if r.err != nil {
		t.Fatalf("upload: %v", r.err)
	}
	if r.code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", r.code)
	}
}

func TestIntegrationUploadAuthFailureKeepsWindowOpen(t *testing.T) {
	n := startNode(t, "secret", false)
	image := []byte("firmware")

	// Both attempts land in the same window: a rejected one, then a good one.
	results := make(chan [2]httpResult, 1)
	go func() {
		bad := <-uploadUntilAccepted(n.uploadURL, image, ota.HashPassword("wrong"))
		good := <-uploadUntilAccepted(n.uploadURL, image, ota.HashPassword("secret"))
		results <- [2]httpResult{bad, good}
	}()

	n.get(t, "/firmware_update")
	res := pump(t, n, results)
	if res[0].code != http.StatusUnauthorized {
		t.Fatalf("bad upload: got %d", res[0].code)
	}
	if res[1].code != http.StatusOK {
		t.Fatalf("good upload: got %d %q", res[1].code, res[1].body)
	}
	for i := 0; i < 3 && len(n.pub.SystemEvents) < 3; i++ {
		n.rt.Iterate(context.Background())
	}

	names := n.pub.SystemEventNames()
	want := []string{"MAINTENANCE_START", "UPLOAD_ERROR", "MAINTENANCE_END"}
	if len(names) != len(want) {
		t.Fatalf("system events: got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, names[i], want[i])
		}
	}
	if n.pub.SystemEvents[1].Reason != "Authentication failed" {
		t.Errorf("reason: got %q", n.pub.SystemEvents[1].Reason)
	}
}
