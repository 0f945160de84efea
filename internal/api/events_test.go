package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/hourglass/internal/model"
)

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

// readEvents reads events from an SSE body until a "done" event or EOF.
func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			events = append(events, cur)
			if cur.name == eventDone {
				return events
			}
			cur = sseEvent{}
		}
	}
	return events
}

func openStream(t *testing.T, url string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStreamEventsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/operations/nonexistent/events", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEventsFinishedOperation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var res startResponse
	postJSON(t, ts.URL+"/v1/operations", `{"duration":"0ms"}`, &res)
	waitForStatus(t, ts.URL, res.ID, model.StatusCompleted)

	resp := openStream(t, ts.URL+"/v1/operations/"+res.ID+"/events")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := readEvents(t, resp)
	if len(events) != 2 {
		t.Fatalf("got %d events, want status then done: %+v", len(events), events)
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(events[0].data), &snap); err != nil {
		t.Fatalf("decode status event: %v", err)
	}
	if events[0].name != eventStatus || snap.Status != model.StatusCompleted {
		t.Errorf("first event = %s %+v, want completed status", events[0].name, snap)
	}
	if events[1].name != eventDone {
		t.Errorf("last event = %q, want done", events[1].name)
	}
}

func TestStreamEventsUntilCancelled(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var res startResponse
	postJSON(t, ts.URL+"/v1/operations", `{"duration":"10s"}`, &res)
	waitForStatus(t, ts.URL, res.ID, model.StatusRunning)

	resp := openStream(t, ts.URL+"/v1/operations/"+res.ID+"/events")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// Cancel once the stream is open; the handler subscribes before writing
	// headers, so the transition is delivered.
	doRequest(t, http.MethodDelete, ts.URL+"/v1/operations/"+res.ID, nil)

	events := readEvents(t, resp)
	if len(events) < 2 {
		t.Fatalf("got %d events, want at least 2: %+v", len(events), events)
	}
	if last := events[len(events)-1]; last.name != eventDone {
		t.Errorf("last event = %q, want done", last.name)
	}

	var final model.Snapshot
	if err := json.Unmarshal([]byte(events[len(events)-2].data), &final); err != nil {
		t.Fatalf("decode final status: %v", err)
	}
	if final.Status != model.StatusCancelled {
		t.Errorf("final status = %q, want cancelled", final.Status)
	}
}
