package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	kit "taskbot/internal/transport"
	logx "taskbot/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		in    string
		limit int
		want  int
	}{
		{"short", "hello", 10, 1},
		{"exact", strings.Repeat("a", 10), 10, 1},
		{"hard cut", strings.Repeat("a", 25), 10, 3},
		{"newline preferred", strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6), 10, 2},
	}
	for _, tc := range cases {
		got := splitTelegramText(tc.in, tc.limit, "")
		if len(got) != tc.want {
			t.Fatalf("%s: got %d chunks %q, want %d", tc.name, len(got), got, tc.want)
		}
		if strings.Join(got, "") != strings.ReplaceAll(tc.in, "\n", "") {
			t.Fatalf("%s: content lost: %q", tc.name, got)
		}
	}
}

func TestSplitAvoidsHTMLTags(t *testing.T) {
	t.Parallel()
	in := "abcdefg<b>bold</b>"
	got := splitTelegramText(in, 9, "HTML")
	if got[0] != "abcdefg" {
		t.Fatalf("first chunk = %q", got[0])
	}
}

func TestParseRecipient(t *testing.T) {
	t.Parallel()
	good := map[string]string{
		"-1001234567": "-1001234567",
		" 42 ":        "42",
		"@channel":    "@channel",
	}
	for in, want := range good {
		r, err := ParseRecipient(in)
		if err != nil {
			t.Fatalf("ParseRecipient(%q): %v", in, err)
		}
		if r.Recipient() != want {
			t.Fatalf("ParseRecipient(%q) = %q, want %q", in, r.Recipient(), want)
		}
	}
	for _, bad := range []string{"", "@", "abc", "0", "@a b"} {
		if _, err := ParseRecipient(bad); err == nil {
			t.Fatalf("ParseRecipient(%q) accepted", bad)
		}
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: " "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

type apiCall struct {
	method string
	params map[string]any
}

func fakeBotAPI(t *testing.T) (*httptest.Server, func() []apiCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []apiCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		params := map[string]any{}
		_ = json.Unmarshal(body, &params)
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		mu.Lock()
		calls = append(calls, apiCall{method: method, params: params})
		n := len(calls)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":`+strings.Repeat("1", n)+`,"chat":{"id":-1001}}}`)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []apiCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]apiCall(nil), calls...)
	}
}

func TestSendTextAndPhoto(t *testing.T) {
	t.Parallel()
	srv, calls := fakeBotAPI(t)
	a, err := New(Config{Token: "123:abc", Offline: true, APIURL: srv.URL, MaxPerSecond: 1000}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	ref, err := a.SendText(ctx, kit.ChatTarget{Recipient: "-1001", ThreadID: 7}, "Standup at 3pm", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref.MessageID != 1 || ref.ChatID != -1001 || ref.ThreadID != 7 {
		t.Fatalf("ref = %+v", ref)
	}

	if _, err := a.SendPhoto(ctx, kit.ChatTarget{Recipient: "@pics"}, kit.Photo{URL: "https://img.example/a.png", Caption: "hi"}, nil); err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}

	got := calls()
	if len(got) != 2 || got[0].method != "sendMessage" || got[1].method != "sendPhoto" {
		t.Fatalf("calls = %+v", got)
	}
	if got[0].params["text"] != "Standup at 3pm" {
		t.Fatalf("sendMessage params = %v", got[0].params)
	}
	if got[1].params["chat_id"] != "@pics" {
		t.Fatalf("sendPhoto params = %v", got[1].params)
	}
	if sent, failed := a.Stats(); sent != 2 || failed != 0 {
		t.Fatalf("stats = %d/%d", sent, failed)
	}

	if _, err := a.SendPhoto(ctx, kit.ChatTarget{Recipient: "@pics"}, kit.Photo{}, nil); err == nil {
		t.Fatal("expected error for empty photo url")
	}
}
