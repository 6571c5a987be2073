package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Tegami/internal/tegami/chat"
	"github.com/bdobrica/Tegami/internal/tegami/llm"
)

const testSnapshot = `{
  "characterId": "sakura",
  "sessionId": "chat-1",
  "name1": "小明",
  "name2": "樱",
  "character": {"description": "高中二年级的学生，和你同班。"},
  "transcript": [{"text": "2044年10月28日·上午·星期一·09:59 放学后见。"}]
}`

func newTestApp(t *testing.T, gen llm.GeneratorFunc) *App {
	t.Helper()
	if gen == nil {
		gen = func(context.Context, llm.Prompt) (*llm.Reply, error) {
			return &llm.Reply{Text: "在呢|||你好"}, nil
		}
	}
	a, err := New(Config{DatabasePath: ":memory:", Generator: gen})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Stop)
	return a
}

func do(t *testing.T, a *App, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func bind(t *testing.T, a *App) recordResponse {
	t.Helper()
	rec := do(t, a, http.MethodPost, "/v1/bind", testSnapshot)
	if rec.Code != http.StatusOK {
		t.Fatalf("bind: status %d body %s", rec.Code, rec.Body)
	}
	return decodeBody[recordResponse](t, rec)
}

func mainThread(t *testing.T, threads []chat.Thread) chat.Thread {
	t.Helper()
	for _, th := range threads {
		if th.Pinned {
			return th
		}
	}
	t.Fatal("no pinned thread")
	return chat.Thread{}
}

func TestServer_Health(t *testing.T) {
	a := newTestApp(t, nil)
	rec := do(t, a, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decodeBody[healthResponse](t, rec)
	if resp.Status != "ok" {
		t.Errorf("status field = %q, want ok", resp.Status)
	}
}

func TestServer_Status(t *testing.T) {
	a := newTestApp(t, nil)
	bind(t, a)

	rec := do(t, a, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[statusResponse](t, rec)
	if resp.Storage != "sqlite" {
		t.Errorf("storage = %q, want sqlite", resp.Storage)
	}
	if resp.ActiveScope != "sakura/chat-1" {
		t.Errorf("active scope = %q", resp.ActiveScope)
	}
	if resp.LocalBytes <= 0 || resp.LocalQuota != DefaultLocalQuota {
		t.Errorf("usage %d of %d", resp.LocalBytes, resp.LocalQuota)
	}
}

func TestServer_NotBound(t *testing.T) {
	a := newTestApp(t, nil)
	for _, path := range []string{"/v1/record", "/v1/threads/x/read"} {
		method := http.MethodGet
		if strings.HasSuffix(path, "/read") {
			method = http.MethodPost
		}
		if rec := do(t, a, method, path, ""); rec.Code != http.StatusConflict {
			t.Errorf("%s: status = %d, want 409", path, rec.Code)
		}
	}
}

func TestServer_BindReturnsRecord(t *testing.T) {
	a := newTestApp(t, nil)
	resp := bind(t, a)

	if resp.Now.Date != "2044年10月28日" || resp.Now.Weekday != "星期一" || resp.Now.Clock != "09:59" {
		t.Errorf("now = %+v", resp.Now)
	}
	main := mainThread(t, resp.Threads)
	if main.DisplayName != "樱" {
		t.Errorf("main thread = %q, want 樱", main.DisplayName)
	}
	if resp.Record.UserProfile.Name != "小明" {
		t.Errorf("user = %q", resp.Record.UserProfile.Name)
	}

	// GET returns the same record.
	again := decodeBody[recordResponse](t, do(t, a, http.MethodGet, "/v1/record", ""))
	if len(again.Threads) != len(resp.Threads) {
		t.Errorf("threads %d vs %d", len(again.Threads), len(resp.Threads))
	}
}

func TestServer_BindRejectsInvalidSnapshot(t *testing.T) {
	a := newTestApp(t, nil)
	rec := do(t, a, http.MethodPost, "/v1/bind", `{"transcript": "nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServer_SendDeliversChunks(t *testing.T) {
	a := newTestApp(t, nil)
	resp := bind(t, a)
	main := mainThread(t, resp.Threads)

	if rec := do(t, a, http.MethodPut, "/v1/settings", `{"onlineMode": true, "chunkDelayMillis": 1}`); rec.Code != http.StatusOK {
		t.Fatalf("settings: status %d body %s", rec.Code, rec.Body)
	}

	rec := do(t, a, http.MethodPost, "/v1/threads/"+main.ID+"/messages", `{"text": "在吗"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("send: status %d body %s", rec.Code, rec.Body)
	}
	a.pipeline.Wait()

	h, err := a.Active()
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := h.Messages(context.Background(), main.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{}
	for _, m := range msgs[len(msgs)-3:] {
		got = append(got, m.Content)
	}
	if strings.Join(got, ",") != "在吗,在呢,你好" {
		t.Errorf("tail = %v", got)
	}

	events := decodeBody[[]Event](t, do(t, a, http.MethodGet, "/v1/events?since=0", ""))
	var rerendered bool
	for _, e := range events {
		if e.Kind == EventRerender && e.ThreadID == main.ID {
			rerendered = true
		}
	}
	if !rerendered {
		t.Errorf("no rerender event in %+v", events)
	}
}

func TestServer_SendGenerationFailure(t *testing.T) {
	a := newTestApp(t, func(context.Context, llm.Prompt) (*llm.Reply, error) {
		return nil, errors.New("upstream down")
	})
	main := mainThread(t, bind(t, a).Threads)

	rec := do(t, a, http.MethodPost, "/v1/threads/"+main.ID+"/messages", `{"text": "在吗"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	a.pipeline.Wait()

	h, _ := a.Active()
	msgs, err := h.Messages(context.Background(), main.ID)
	if err != nil {
		t.Fatal(err)
	}
	if last := msgs[len(msgs)-1]; last.Content != "在吗" {
		t.Errorf("user message not kept, last = %q", last.Content)
	}
	events := decodeBody[[]Event](t, do(t, a, http.MethodGet, "/v1/events?since=0", ""))
	if len(events) == 0 || events[len(events)-1].Kind != EventFailed {
		t.Errorf("events = %+v, want trailing failed", events)
	}
}

func TestServer_SendSurvivesClientDisconnect(t *testing.T) {
	release := make(chan struct{})
	a := newTestApp(t, func(context.Context, llm.Prompt) (*llm.Reply, error) {
		<-release
		return &llm.Reply{Text: "还在"}, nil
	})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	main := mainThread(t, bind(t, a).Threads)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/v1/threads/"+main.ID+"/messages", strings.NewReader(`{"text": "在吗"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	cancel()
	unblock()
	a.pipeline.Wait()

	h, _ := a.Active()
	msgs, err := h.Messages(context.Background(), main.ID)
	if err != nil {
		t.Fatal(err)
	}
	if last := msgs[len(msgs)-1]; last.Content != "还在" {
		t.Errorf("last message = %q, want the reply", last.Content)
	}
}

func TestServer_Errors(t *testing.T) {
	a := newTestApp(t, nil)
	bind(t, a)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown thread", http.MethodPost, "/v1/threads/missing/messages", `{"text": "hi"}`, http.StatusNotFound},
		{"empty message", http.MethodPost, "/v1/threads/missing/messages", `{"text": "  "}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/v1/contacts", `{`, http.StatusBadRequest},
		{"empty contact", http.MethodPost, "/v1/contacts", `{"name": " "}`, http.StatusBadRequest},
		{"unknown moment", http.MethodPost, "/v1/moments/missing/like", ``, http.StatusNotFound},
		{"bad since", http.MethodGet, "/v1/events?since=x", ``, http.StatusBadRequest},
		{"negative settings", http.MethodPut, "/v1/settings", `{"historyDepth": -1}`, http.StatusBadRequest},
		{"bad receive", http.MethodPost, "/v1/receive", `{"from": ""}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, a, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestServer_Contacts(t *testing.T) {
	a := newTestApp(t, nil)
	bind(t, a)

	rec := do(t, a, http.MethodPost, "/v1/contacts", `{"name": "阿杰", "relation": "同学"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	c := decodeBody[chat.Contact](t, rec)
	if c.DisplayName != "阿杰" || c.Avatar == "" {
		t.Errorf("contact = %+v", c)
	}

	if rec := do(t, a, http.MethodPost, "/v1/contacts", `{"name": "阿杰"}`); rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", rec.Code)
	}
	if rec := do(t, a, http.MethodDelete, "/v1/contacts/"+c.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want 204", rec.Code)
	}
}

func TestServer_Receive(t *testing.T) {
	a := newTestApp(t, nil)
	bind(t, a)

	rec := do(t, a, http.MethodPost, "/v1/receive", `{"from": "快递小哥", "message": "到楼下了"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	got := decodeBody[struct {
		ThreadID string         `json:"threadId"`
		Messages []chat.Message `json:"messages"`
	}](t, rec)
	if got.ThreadID == "" || len(got.Messages) != 1 || got.Messages[0].Time != "刚刚" {
		t.Errorf("received = %+v", got)
	}
}

func TestServer_Moments(t *testing.T) {
	a := newTestApp(t, nil)
	bind(t, a)

	rec := do(t, a, http.MethodPost, "/v1/moments", `{"text": "今天天气不错"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	m := decodeBody[chat.Moment](t, rec)

	liked := decodeBody[chat.Moment](t, do(t, a, http.MethodPost, "/v1/moments/"+m.ID+"/like", ""))
	if !liked.LikedByUser || liked.LikeCount != 1 {
		t.Errorf("after like = %+v", liked)
	}
	commented := decodeBody[chat.Moment](t, do(t, a, http.MethodPost, "/v1/moments/"+m.ID+"/comments", `{"text": "同感"}`))
	if commented.CommentCount != 1 || commented.Comments[0].Author != "小明" {
		t.Errorf("after comment = %+v", commented)
	}
}

func TestServer_StartStop(t *testing.T) {
	a, err := New(Config{DatabasePath: ":memory:", HTTPAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Handler().Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
}
