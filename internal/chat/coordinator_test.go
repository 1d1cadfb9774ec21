package chat_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatmate/internal/chat"
	"chatmate/internal/events"
	"chatmate/internal/session"
	"chatmate/internal/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	eng  *testutil.Engine
	sess *session.Session
	c    *chat.Coordinator
	rec  *events.Recorder
}

func newFixture(t *testing.T, eng *testutil.Engine, cfg chat.Config, load bool) *fixture {
	t.Helper()
	sess := session.New(session.Config{Backend: eng})
	t.Cleanup(func() { _ = sess.Close() })
	rec := events.NewRecorder()
	cfg.Session = sess
	cfg.Publisher = rec
	c := chat.New(cfg)
	t.Cleanup(func() { _ = c.Close() })
	if load {
		p := testutil.WriteModelFile(t, t.TempDir(), "m.gguf", testutil.DefaultMeta)
		if err := c.LoadModel(testutil.Ctx(t), p); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	return &fixture{eng: eng, sess: sess, c: c, rec: rec}
}

var ignoreIdentity = cmpopts.IgnoreFields(chat.Message{}, "ID", "CreatedAt")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// A reply grows fragment by fragment and is finalized.
func TestSubmitStreamsReply(t *testing.T) {
	eng := testutil.NewEngine()
	eng.StepDelay = time.Millisecond
	f := newFixture(t, eng, chat.Config{}, true)

	if err := f.c.Submit(testutil.Ctx(t), "  Hello  "); err != nil {
		t.Fatalf("submit: %v", err)
	}
	msgs := f.c.Messages()
	if len(msgs) != 2 || !msgs[1].InProgress || msgs[1].GenerationID != 1 {
		t.Fatalf("unexpected log right after submit: %+v", msgs)
	}
	replyID, created := msgs[1].ID, msgs[1].CreatedAt

	seen := map[string]bool{}
	waitFor(t, "reply to finish", func() bool {
		m := f.c.Messages()
		seen[m[1].Content] = true
		if m[1].ID != replyID || !m[1].CreatedAt.Equal(created) {
			t.Fatalf("in-progress message lost its identity")
		}
		return !f.c.IsGenerating()
	})
	if err := f.c.Wait(testutil.Ctx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}

	want := []chat.Message{
		{Role: chat.RoleUser, Content: "Hello"},
		{Role: chat.RoleAssistant, Content: "You said: Hello", GenerationID: 1},
	}
	if diff := cmp.Diff(want, f.c.Messages(), ignoreIdentity); diff != "" {
		t.Fatalf("log mismatch (-want +got):\n%s", diff)
	}
	if len(seen) < 2 {
		t.Fatalf("expected intermediate contents, saw %v", seen)
	}
	if !f.sess.Ready() {
		t.Fatalf("session not ready after reply")
	}
	if got := f.eng.Prompts(); len(got) != 1 || got[0] != "Hello" {
		t.Fatalf("prompts=%v", got)
	}
}

// Stopping keeps exactly what was streamed.
func TestStopKeepsPartialReply(t *testing.T) {
	eng := testutil.NewEngine()
	eng.Reply = testutil.LongReply(200)
	eng.StepDelay = 2 * time.Millisecond
	f := newFixture(t, eng, chat.Config{}, true)

	if err := f.c.Submit(testutil.Ctx(t), "Tell me a long story"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "first fragment", func() bool { return f.c.Messages()[1].Content != "" })
	if err := f.c.Stop(testutil.Ctx(t)); err != nil {
		t.Fatalf("stop: %v", err)
	}
	after := f.c.Messages()[1]
	if after.InProgress {
		t.Fatalf("message still in progress after stop")
	}
	n := strings.Count(after.Content, "word ")
	if n == 0 || n == 200 || after.Content != strings.Repeat("word ", n) {
		t.Fatalf("unexpected partial content %q", after.Content)
	}
	time.Sleep(30 * time.Millisecond)
	if got := f.c.Messages()[1].Content; got != after.Content {
		t.Fatalf("content grew after stop: %q -> %q", after.Content, got)
	}
	if f.c.IsGenerating() || !f.sess.Ready() {
		t.Fatalf("generating=%v ready=%v", f.c.IsGenerating(), f.sess.Ready())
	}
	if f.c.LastError() != nil {
		t.Fatalf("stop recorded an error: %v", f.c.LastError())
	}
	// a second stop is harmless
	if err := f.c.Stop(testutil.Ctx(t)); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

// A submit during a reply is rejected and changes nothing.
func TestSubmitWhileGeneratingIsRejected(t *testing.T) {
	eng := testutil.NewEngine()
	eng.Reply = testutil.LongReply(20)
	eng.StepDelay = 2 * time.Millisecond
	f := newFixture(t, eng, chat.Config{}, true)

	if err := f.c.Submit(testutil.Ctx(t), "first"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	before := f.c.Messages()
	if err := f.c.Submit(testutil.Ctx(t), "second"); !errors.Is(err, chat.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if got := f.c.Messages(); len(got) != len(before) {
		t.Fatalf("log changed: %d -> %d", len(before), len(got))
	}
	if err := f.c.Wait(testutil.Ctx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	msgs := f.c.Messages()
	if len(msgs) != 2 || msgs[0].Content != "first" {
		t.Fatalf("unexpected log: %+v", msgs)
	}
	inProgress := 0
	for _, m := range msgs {
		if m.InProgress {
			inProgress++
		}
	}
	if inProgress != 0 {
		t.Fatalf("in-progress messages after reply: %d", inProgress)
	}
	if got := eng.Prompts(); len(got) != 1 {
		t.Fatalf("prompts=%v", got)
	}
}

func TestSubmitRejectsBlankInput(t *testing.T) {
	f := newFixture(t, testutil.NewEngine(), chat.Config{}, true)
	for _, in := range []string{"", "   ", "\n\t"} {
		if err := f.c.Submit(testutil.Ctx(t), in); !errors.Is(err, chat.ErrEmptyInput) {
			t.Fatalf("input %q: expected ErrEmptyInput, got %v", in, err)
		}
	}
	if len(f.c.Messages()) != 0 {
		t.Fatalf("log changed")
	}
}

func TestSubmitWithoutModel(t *testing.T) {
	f := newFixture(t, testutil.NewEngine(), chat.Config{}, false)
	err := f.c.LoadModel(testutil.Ctx(t), filepath.Join(t.TempDir(), "missing.gguf"))
	if err == nil || f.c.LastError() == nil {
		t.Fatalf("expected load failure to be recorded, err=%v", err)
	}
	if err := f.c.Submit(testutil.Ctx(t), "hi"); !session.IsNotReady(err) {
		t.Fatalf("expected NotReady, got %v", err)
	}
	if len(f.c.Messages()) != 0 {
		t.Fatalf("log changed")
	}
}

func TestGreetingAfterLoad(t *testing.T) {
	f := newFixture(t, testutil.NewEngine(), chat.Config{Greeting: "Hi, I run offline."}, true)
	want := []chat.Message{{Role: chat.RoleAssistant, Content: "Hi, I run offline."}}
	if diff := cmp.Diff(want, f.c.Messages(), ignoreIdentity); diff != "" {
		t.Fatalf("log mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineErrorKeepsPartialReply(t *testing.T) {
	eng := testutil.NewEngine()
	eng.FailAt = 3
	f := newFixture(t, eng, chat.Config{}, true)
	if err := f.c.Submit(testutil.Ctx(t), "break please"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.c.Wait(testutil.Ctx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	msgs := f.c.Messages()
	if msgs[1].Content != "You said: " || msgs[1].InProgress {
		t.Fatalf("unexpected reply: %+v", msgs[1])
	}
	if !session.IsEngineError(f.c.LastError()) {
		t.Fatalf("last error=%v", f.c.LastError())
	}
	if state, _ := f.sess.State(); state != session.StateFailed {
		t.Fatalf("state=%s", state)
	}
	if err := f.c.Submit(testutil.Ctx(t), "again"); !session.IsNotReady(err) {
		t.Fatalf("expected NotReady, got %v", err)
	}
}

func TestClearKeepsSession(t *testing.T) {
	f := newFixture(t, testutil.NewEngine(), chat.Config{}, true)
	if err := f.c.Submit(testutil.Ctx(t), "one"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.c.Wait(testutil.Ctx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := f.c.Clear(testutil.Ctx(t)); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(f.c.Messages()) != 0 {
		t.Fatalf("log not cleared")
	}
	if !f.sess.Ready() {
		t.Fatalf("clear touched the session")
	}
	names := f.rec.Names()
	if names[len(names)-1] != chat.EventTranscriptCleared {
		t.Fatalf("events=%v", names)
	}
}

func TestClearDuringReplyDropsFragments(t *testing.T) {
	eng := testutil.NewEngine()
	eng.Reply = testutil.LongReply(30)
	eng.StepDelay = time.Millisecond
	f := newFixture(t, eng, chat.Config{}, true)
	if err := f.c.Submit(testutil.Ctx(t), "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.c.Clear(testutil.Ctx(t)); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := f.c.Wait(testutil.Ctx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(f.c.Messages()) != 0 {
		t.Fatalf("fragments landed after clear: %+v", f.c.Messages())
	}
}

func TestTranscriptHistoryFeedsPriorTurns(t *testing.T) {
	eng := testutil.NewEngine()
	cfg := chat.Config{Prompt: chat.PromptBuilder{Mode: chat.HistoryTranscript}}
	f := newFixture(t, eng, cfg, true)
	for _, in := range []string{"one", "two"} {
		if err := f.c.Submit(testutil.Ctx(t), in); err != nil {
			t.Fatalf("submit %s: %v", in, err)
		}
		if err := f.c.Wait(testutil.Ctx(t)); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	prompts := eng.Prompts()
	want := "User: one\nAssistant: You said: one\nUser: two\nAssistant:"
	if prompts[1] != want {
		t.Fatalf("prompt=%q want %q", prompts[1], want)
	}
}

func TestClosedCoordinator(t *testing.T) {
	f := newFixture(t, testutil.NewEngine(), chat.Config{}, true)
	_ = f.c.Close()
	if err := f.c.Submit(context.Background(), "hi"); !errors.Is(err, chat.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := f.c.LoadModel(context.Background(), "x"); !errors.Is(err, chat.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
