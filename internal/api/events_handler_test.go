package api

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/events"
)

type sseFrame struct {
	id, typ, data string
}

func readFrame(t *testing.T, sc *bufio.Scanner) sseFrame {
	t.Helper()
	var f sseFrame
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if f.data != "" {
				return f
			}
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			f.typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return f
}

func TestEventsReplayAndStream(t *testing.T) {
	env := newTestEnv(t)
	env.hub.Publish(events.TypeFableSaved, map[string]string{"id": "old"})
	env.hub.Publish(events.TypeFableSaved, map[string]string{"id": "f1"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.http.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+adminKey)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	replayed := readFrame(t, sc)
	if replayed.id != "2" || replayed.typ != events.TypeFableSaved || replayed.data != `{"id":"f1"}` {
		t.Fatalf("replayed = %+v", replayed)
	}

	env.hub.Publish(events.TypeJobSubmitted, map[string]string{"job_id": "j1"})
	live := readFrame(t, sc)
	if live.id != "3" || live.typ != events.TypeJobSubmitted {
		t.Fatalf("live = %+v", live)
	}
}

func TestParseLastEventID(t *testing.T) {
	tests := map[string]int64{"": 0, "7": 7, "-3": 0, "abc": 0}
	for in, want := range tests {
		if got := parseLastEventID(in); got != want {
			t.Fatalf("parseLastEventID(%q) = %d, want %d", in, got, want)
		}
	}
}
