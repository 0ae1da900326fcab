package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pv/poleko-monitor-go/internal/device"
	"github.com/pv/poleko-monitor-go/internal/instrument"
	"github.com/pv/poleko-monitor-go/internal/measurement"
	"github.com/pv/poleko-monitor-go/internal/monitor"
	"github.com/pv/poleko-monitor-go/internal/poller"
)

// ============================================================================
// SSEHub Tests
// ============================================================================

func TestSSEHubAddRemoveClient(t *testing.T) {
	hub := NewSSEHub()

	client1 := hub.AddClient("")
	client2 := hub.AddClient("10.0.0.1:80")
	if client2.device != "10.0.0.1:80" {
		t.Errorf("expected device=10.0.0.1:80, got %s", client2.device)
	}
	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}

	hub.RemoveClient(client1)
	hub.RemoveClient(client2)
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after removal, got %d", hub.ClientCount())
	}
}

func TestSSEHubBroadcastFilter(t *testing.T) {
	hub := NewSSEHub()

	all := hub.AddClient("")
	same := hub.AddClient("10.0.0.1:80")
	other := hub.AddClient("10.0.0.2:80")
	defer hub.RemoveClient(all)
	defer hub.RemoveClient(same)
	defer hub.RemoveClient(other)

	hub.Broadcast(SSEEvent{Type: "reading", Device: "10.0.0.1:80", Timestamp: time.Now()})

	for name, c := range map[string]*SSEClient{"all": all, "same": same} {
		select {
		case ev := <-c.events:
			if ev.Device != "10.0.0.1:80" {
				t.Errorf("%s: unexpected device %s", name, ev.Device)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s: did not receive event", name)
		}
	}

	select {
	case <-other.events:
		t.Error("filtered client should not receive another device's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSSEHubDropsForSlowClient(t *testing.T) {
	hub := NewSSEHub()
	c := hub.AddClient("")
	defer hub.RemoveClient(c)

	for i := 0; i < clientBuffer+10; i++ {
		hub.Broadcast(SSEEvent{Type: "reading"})
	}
	if len(c.events) != clientBuffer {
		t.Errorf("expected queue capped at %d, got %d", clientBuffer, len(c.events))
	}
}

func TestSSEHubPublish(t *testing.T) {
	hub := NewSSEHub()
	c := hub.AddClient("")
	defer hub.RemoveClient(c)

	ep, _ := device.ParseEndpoint("10.0.0.1", 80)
	reading := instrument.SmartProReading{Header: measurement.NewHeader(), IsRunning: true, Temperature: 37}
	hub.Publish(monitor.Event{
		Type:      monitor.Reading,
		Device:    device.Info{Endpoint: ep, Label: "chamber", Kind: instrument.SmartProKind},
		State:     poller.Ready,
		Data:      reading,
		Timestamp: time.Now(),
	})

	select {
	case ev := <-c.events:
		if ev.Type != "reading" || ev.Device != "10.0.0.1:80" || ev.State != "ready" || ev.Kind != "SmartPro" {
			t.Errorf("unexpected event %+v", ev)
		}
		if _, ok := ev.Data.(instrument.SmartProReading); !ok {
			t.Errorf("expected reading payload, got %T", ev.Data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("did not receive event")
	}

	hub.Publish(monitor.Event{Type: monitor.DeviceAdded, Device: device.Info{Endpoint: ep, Kind: "SmartPro"}})
	ev := <-c.events
	if ev.State != "" {
		t.Errorf("registry events carry no state, got %q", ev.State)
	}
}

func TestSSEHubConcurrentAccess(t *testing.T) {
	hub := NewSSEHub()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := hub.AddClient("")
			time.Sleep(time.Millisecond)
			hub.RemoveClient(client)
		}()
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Broadcast(SSEEvent{Type: "test", Timestamp: time.Now()})
		}()
	}

	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after concurrent operations, got %d", hub.ClientCount())
	}
}

// ============================================================================
// HandleSSE Tests
// ============================================================================

func TestHandleSSEConnection(t *testing.T) {
	a := setupTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest("GET", "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		a.handlers.HandleSSE(w, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleSSE did not complete after context cancellation")
	}

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected Content-Type=text/event-stream, got %s", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected Cache-Control=no-cache, got %s", cc)
	}

	events := parseSSEEvents(w.Body.String())
	if len(events) == 0 || events[0]["event"] != "connected" {
		t.Fatalf("expected a connected event first, got %v", events)
	}
	if a.handlers.GetSSEHub().ClientCount() != 0 {
		t.Error("client was not removed after disconnect")
	}
}

func TestHandleSSEReceivesDeviceEvents(t *testing.T) {
	a := setupTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest("GET", "/api/events?device=10.0.0.5:80", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		a.handlers.HandleSSE(w, req)
		close(done)
	}()

	hub := a.handlers.GetSSEHub()
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	a.do(t, "POST", "/api/devices", `{"ip":"10.0.0.6","port":80,"kind":"SmartPro"}`)
	a.do(t, "POST", "/api/devices", `{"ip":"10.0.0.5","port":80,"kind":"WeatherDevice","label":"roof"}`)

	<-done

	events := parseSSEEvents(w.Body.String())
	var added []map[string]string
	for _, ev := range events {
		if ev["event"] == "device_added" {
			added = append(added, ev)
		}
	}
	if len(added) != 1 {
		t.Fatalf("expected exactly one device_added for the filtered device, got %v", events)
	}

	var payload SSEEvent
	if err := json.Unmarshal([]byte(added[0]["data"]), &payload); err != nil {
		t.Fatalf("failed to parse event data: %v", err)
	}
	if payload.Device != "10.0.0.5:80" || payload.Label != "roof" || payload.Kind != "WeatherDevice" {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestHandleSSERequiresFlusher(t *testing.T) {
	a := setupTestAPI(t)

	w := &plainWriter{header: http.Header{}}
	a.handlers.HandleSSE(w, httptest.NewRequest("GET", "/api/events", nil))
	if w.status != http.StatusInternalServerError {
		t.Errorf("expected status 500 without flusher, got %d", w.status)
	}
}

type plainWriter struct {
	header http.Header
	status int
}

func (w *plainWriter) Header() http.Header         { return w.header }
func (w *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *plainWriter) WriteHeader(status int)      { w.status = status }

func TestSSEEventJSON(t *testing.T) {
	event := SSEEvent{
		Type:      "reading",
		Device:    "10.0.0.1:80",
		State:     "ready",
		Data:      map[string]interface{}{"temperature": 21.5},
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal SSEEvent: %v", err)
	}

	var decoded SSEEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal SSEEvent: %v", err)
	}
	if decoded.Type != event.Type || decoded.Device != event.Device || decoded.State != event.State {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
	if !decoded.Timestamp.Equal(event.Timestamp) {
		t.Errorf("expected timestamp %v, got %v", event.Timestamp, decoded.Timestamp)
	}
}

// parseSSEEvents разбирает тело ответа SSE на события
func parseSSEEvents(body string) []map[string]string {
	var events []map[string]string
	scanner := bufio.NewScanner(strings.NewReader(body))

	currentEvent := make(map[string]string)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(currentEvent) > 0 {
				events = append(events, currentEvent)
				currentEvent = make(map[string]string)
			}
			continue
		}
		if strings.HasPrefix(line, "event: ") {
			currentEvent["event"] = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			currentEvent["data"] = strings.TrimPrefix(line, "data: ")
		}
	}
	if len(currentEvent) > 0 {
		events = append(events, currentEvent)
	}
	return events
}
