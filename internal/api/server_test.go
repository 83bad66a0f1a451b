package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pentland/scribe/internal/agent"
	"github.com/pentland/scribe/internal/memory"
)

type fakeRunner struct {
	lastReq agent.Request
	resp    *agent.Response
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, req agent.Request) (*agent.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func testServer(runner Runner) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(logger, "127.0.0.1:0", runner, nil, 0)
}

func TestChatEndpoint(t *testing.T) {
	runner := &fakeRunner{resp: &agent.Response{Content: "hi back", State: agent.StateDone, Rounds: 1, Model: "m"}}
	srv := httptest.NewServer(testServer(runner).Handler())
	defer srv.Close()

	body := `{"text":"hello","conversation_id":"c7","kind":"multi"}`
	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Content != "hi back" || out.State != "done" || out.Rounds != 1 {
		t.Errorf("response = %+v", out)
	}
	if runner.lastReq.ConversationID != "c7" {
		t.Errorf("conversation = %q", runner.lastReq.ConversationID)
	}
	if runner.lastReq.Kind != memory.KindMultiParty {
		t.Errorf("kind = %q, want multi", runner.lastReq.Kind)
	}
}

func TestChatEndpointDefaultsToDirect(t *testing.T) {
	runner := &fakeRunner{resp: &agent.Response{Content: "ok", State: agent.StateDone, Rounds: 1}}
	srv := httptest.NewServer(testServer(runner).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if runner.lastReq.Kind != memory.KindDirect {
		t.Errorf("kind = %q, want direct", runner.lastReq.Kind)
	}
}

func TestChatEndpointRejectsEmptyText(t *testing.T) {
	runner := &fakeRunner{resp: &agent.Response{}}
	srv := httptest.NewServer(testServer(runner).Handler())
	defer srv.Close()

	for _, body := range []string{`{}`, `not json`} {
		resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

// deadlineRunner records whether the handler context carried a deadline.
type deadlineRunner struct {
	hasDeadline bool
}

func (d *deadlineRunner) Run(ctx context.Context, req agent.Request) (*agent.Response, error) {
	_, d.hasDeadline = ctx.Deadline()
	return &agent.Response{Content: "ok", State: agent.StateDone, Rounds: 1}, nil
}

func TestChatAppliesRequestDeadline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	runner := &deadlineRunner{}
	srv := httptest.NewServer(NewServer(logger, "127.0.0.1:0", runner, nil, time.Minute).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if !runner.hasDeadline {
		t.Error("runner context carried no deadline")
	}

	// Zero timeout means the handler adds none.
	bare := &deadlineRunner{}
	srv2 := httptest.NewServer(NewServer(logger, "127.0.0.1:0", bare, nil, 0).Handler())
	defer srv2.Close()

	resp, err = http.Post(srv2.URL+"/api/chat", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if bare.hasDeadline {
		t.Error("unexpected deadline with zero timeout")
	}
}

func TestHealthAndInfo(t *testing.T) {
	srv := httptest.NewServer(testServer(&fakeRunner{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/info")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var info map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestEventStreamUnavailableWithoutBus(t *testing.T) {
	srv := httptest.NewServer(testServer(&fakeRunner{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
