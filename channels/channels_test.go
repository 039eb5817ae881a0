package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/pagewatch/job"
	"github.com/hazyhaar/pagewatch/runner"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func outcome(index int, url string, status runner.Status, diff string) runner.Outcome {
	j := job.Job{Index: index, Descriptor: job.Descriptor{Kind: job.KindURL, URL: url}}
	j.ApplyDefaults()
	return runner.Outcome{Job: j, Status: status, Diff: diff, ClosestIndex: -1}
}

func sampleReport() Report {
	return Report{
		Meta: runner.Meta{RunID: "run1", JobCount: 3},
		Outcomes: []runner.Outcome{
			outcome(0, "https://a.example", runner.StatusChanged, "--- @ x\n+++ @ y\n-old\n+new\n"),
			outcome(1, "https://b.example", runner.StatusUnchanged, ""),
			{Job: job.Job{Index: 2, Name: "broken"}, Status: runner.StatusError, Err: errors.New("url is required")},
		},
	}
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

// recorder is a channel that remembers what it received.
type recorder struct {
	name string
	fail error

	mu   sync.Mutex
	got  []Report
	done bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Deliver(_ context.Context, rep Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, rep)
	return r.fail
}

func (r *recorder) Close() error {
	r.done = true
	return nil
}

func TestFormatText(t *testing.T) {
	rep := sampleReport()
	out := FormatText(rep.Meta, rep.Outcomes)
	assert.True(t, strings.HasPrefix(out, "pagewatch: 1 changed, 1 unchanged, 1 error (run run1)\n"))
	assert.Contains(t, out, "CHANGED: https://a.example\n--- @ x\n")
	assert.Contains(t, out, "UNCHANGED: https://b.example\n")
	assert.Contains(t, out, "ERROR: broken\nurl is required\n")
	assert.Empty(t, FormatText(rep.Meta, nil))
}

func TestReportable(t *testing.T) {
	// WHAT: only_changes keeps changes and errors, drops unchanged.
	rep := sampleReport()
	assert.Len(t, rep.Reportable(false), 3)
	kept := rep.Reportable(true)
	require.Len(t, kept, 2)
	assert.Equal(t, runner.StatusChanged, kept[0].Status)
	assert.Equal(t, runner.StatusError, kept[1].Status)
}

func TestChunk(t *testing.T) {
	// WHAT: Chunks respect the limit, prefer newline breaks and lose nothing.
	text := strings.Repeat("line of text é\n", 300)
	parts := chunk(text, 100)
	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 100)
		assert.True(t, strings.HasSuffix(p, "\n"))
	}
	assert.Equal(t, text, strings.Join(parts, ""))

	long := strings.Repeat("x", 250)
	assert.Equal(t, []string{strings.Repeat("x", 100), strings.Repeat("x", 100), strings.Repeat("x", 50)}, chunk(long, 100))
	assert.Nil(t, chunk("", 10))
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	ch, err := WriterFactory(&buf)("out", raw(`{"only_changes": true}`))
	require.NoError(t, err)
	require.NoError(t, ch.Deliver(context.Background(), sampleReport()))
	assert.Contains(t, buf.String(), "CHANGED: https://a.example")
	assert.NotContains(t, buf.String(), "UNCHANGED")

	// Nothing reportable writes nothing.
	buf.Reset()
	rep := Report{Outcomes: []runner.Outcome{outcome(0, "https://b.example", runner.StatusUnchanged, "")}}
	require.NoError(t, ch.Deliver(context.Background(), rep))
	assert.Empty(t, buf.String())

	_, err = WriterFactory(&buf)("out", raw(`{"format": "xml"}`))
	assert.Error(t, err)
}

func TestStdout_JSON(t *testing.T) {
	var buf bytes.Buffer
	ch, err := WriterFactory(&buf)("out", raw(`{"format": "json"}`))
	require.NoError(t, err)
	require.NoError(t, ch.Deliver(context.Background(), sampleReport()))

	var got struct {
		Meta     runner.Meta      `json:"meta"`
		Outcomes []map[string]any `json:"outcomes"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run1", got.Meta.RunID)
	require.Len(t, got.Outcomes, 3)
	assert.Equal(t, "changed", got.Outcomes[0]["status"])
}

func TestWebhook_SignedPost(t *testing.T) {
	// WHAT: The JSON report is POSTed with a verifiable HMAC signature.
	var body []byte
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "v", r.Header.Get("X-Extra"))
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get("X-Signature-256")
	}))
	defer srv.Close()

	cfg, _ := json.Marshal(map[string]any{"url": srv.URL, "secret": testSecret, "headers": map[string]string{"X-Extra": "v"}})
	ch, err := WebhookFactory()("hook", cfg)
	require.NoError(t, err)
	require.NoError(t, ch.Deliver(context.Background(), sampleReport()))

	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.True(t, VerifySignature(testSecret, body, sig))
	assert.False(t, VerifySignature("another-secret-of-sufficient-size", body, sig))
	assert.Contains(t, string(body), `"run_id":"run1"`)
}

func TestWebhook_Config(t *testing.T) {
	_, err := WebhookFactory()("hook", raw(`{}`))
	assert.ErrorContains(t, err, "url is required")

	_, err = WebhookFactory()("hook", raw(`{"url": "ftp://x"}`))
	assert.Error(t, err)

	_, err = WebhookFactory()("hook", raw(`{"url": "https://x.example", "secret": "short"}`))
	assert.ErrorContains(t, err, "secret")
}

func TestWebhook_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	ch, err := WebhookFactory()("hook", raw(`{"url": "`+srv.URL+`"}`))
	require.NoError(t, err)
	err = ch.Deliver(context.Background(), sampleReport())
	assert.ErrorContains(t, err, "502")
	assert.ErrorContains(t, err, "nope")
}

func TestWebhook_BlockPrivate(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hit = true }))
	defer srv.Close()

	ch, err := WebhookFactory()("hook", raw(`{"url": "`+srv.URL+`", "block_private": true}`))
	require.NoError(t, err)
	assert.Error(t, ch.Deliver(context.Background(), sampleReport()))
	assert.False(t, hit)
}

func TestDiscord_Chunks(t *testing.T) {
	// WHAT: Long reports are split into messages within Discord's limit.
	var mu sync.Mutex
	var contents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
		mu.Lock()
		contents = append(contents, m["content"])
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch, err := DiscordFactory()("dc", raw(`{"webhook_url": "`+srv.URL+`"}`))
	require.NoError(t, err)

	rep := Report{Outcomes: []runner.Outcome{
		outcome(0, "https://a.example", runner.StatusChanged, strings.Repeat("+added line\n", 500)),
	}}
	require.NoError(t, ch.Deliver(context.Background(), rep))
	require.Greater(t, len(contents), 1)
	for _, c := range contents {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), DiscordMessageLimit)
		assert.True(t, strings.HasPrefix(c, "```"))
	}
}

func TestTelegram(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	ch, err := TelegramFactory()("tg", raw(`{"bot_token": "123:ABC", "chat_id": "42", "api_base": "`+srv.URL+`/"}`))
	require.NoError(t, err)
	require.NoError(t, ch.Deliver(context.Background(), sampleReport()))
	assert.Equal(t, "/bot123:ABC/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Contains(t, got["text"], "CHANGED")

	_, err = TelegramFactory()("tg", raw(`{"bot_token": "x"}`))
	assert.ErrorContains(t, err, "chat_id")
}

func TestTelegram_ErrorRedactsToken(t *testing.T) {
	ch, err := TelegramFactory()("tg", raw(`{"bot_token": "999:SECRET", "chat_id": "1", "api_base": "http://127.0.0.1:1"}`))
	require.NoError(t, err)
	err = ch.Deliver(context.Background(), sampleReport())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "999:SECRET")
}

func TestDispatcher_DeliverContinuesAfterFailure(t *testing.T) {
	// WHAT: A failing channel is reported; the others still receive the report.
	d := NewDispatcher()
	bad := &recorder{name: "a-bad", fail: errors.New("down")}
	good := &recorder{name: "b-good"}
	d.Add(bad)
	d.Add(good)

	err := d.Deliver(context.Background(), sampleReport())
	var df *ErrDeliveryFailed
	require.ErrorAs(t, err, &df)
	assert.Equal(t, "a-bad", df.Channel)
	assert.Len(t, good.got, 1)
	assert.Equal(t, []string{"a-bad", "b-good"}, d.Names())

	err = d.DeliverTo(context.Background(), "missing", sampleReport())
	var nf *ErrChannelNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestDispatcher_Reload(t *testing.T) {
	// WHAT: Reload starts, keeps, rebuilds and stops channels by fingerprint.
	d := NewDispatcher()
	builds := map[string]int{}
	d.RegisterPlatform("rec", func(name string, _ json.RawMessage) (Channel, error) {
		builds[name]++
		return &recorder{name: name}, nil
	})

	off := false
	require.NoError(t, d.Reload([]Spec{
		{Name: "one", Platform: "rec", Config: raw(`{"a":1}`)},
		{Name: "two", Platform: "rec"},
		{Name: "three", Platform: "rec", Enabled: &off},
	}))
	assert.Equal(t, []string{"one", "two"}, d.Names())

	require.NoError(t, d.Reload([]Spec{
		{Name: "one", Platform: "rec", Config: raw(`{"a":2}`)},
		{Name: "two", Platform: "rec"},
	}))
	assert.Equal(t, 2, builds["one"], "config change rebuilds")
	assert.Equal(t, 1, builds["two"], "unchanged channel kept")

	err := d.Reload([]Spec{{Name: "x", Platform: "carrier-pigeon"}, {Name: "y", Platform: "webhook", Config: raw(`{}`)}})
	var nf *ErrNoPlatformFactory
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "carrier-pigeon", nf.Platform)
	assert.ErrorContains(t, err, "url is required")
	assert.Empty(t, d.Names())
}

func TestDispatcher_PanicIsDeliveryError(t *testing.T) {
	d := NewDispatcher()
	d.RegisterPlatform("boom", func(name string, _ json.RawMessage) (Channel, error) {
		return panicky{name}, nil
	})
	require.NoError(t, d.Reload([]Spec{{Name: "p", Platform: "boom"}}))
	assert.ErrorContains(t, d.Deliver(context.Background(), sampleReport()), "panic")
}

type panicky struct{ name string }

func (p panicky) Name() string                         { return p.name }
func (p panicky) Deliver(context.Context, Report) error { panic("boom") }

func TestDispatcher_CloseClosesChannels(t *testing.T) {
	d := NewDispatcher()
	r := &recorder{name: "r"}
	d.Add(r)
	require.NoError(t, d.Close())
	assert.True(t, r.done)
	assert.Empty(t, d.Names())
}

func TestSpec_YAML(t *testing.T) {
	src := `
- name: ops
  platform: webhook
  config:
    url: https://hooks.example.com/x
    only_changes: true
- platform: stdout
  enabled: false
`
	var specs []Spec
	require.NoError(t, yaml.Unmarshal([]byte(src), &specs))
	require.Len(t, specs, 2)
	assert.JSONEq(t, `{"url":"https://hooks.example.com/x","only_changes":true}`, string(specs[0].Config))
	assert.True(t, specs[0].IsEnabled())
	assert.False(t, specs[1].IsEnabled())
	assert.Nil(t, specs[1].Config)
}
