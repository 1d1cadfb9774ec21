package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatmate/internal/events"
	"chatmate/internal/model"
	"chatmate/internal/session"
	"chatmate/internal/testutil"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newReady(t *testing.T, eng *testutil.Engine) (*session.Session, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder()
	s := session.New(session.Config{Backend: eng, Publisher: rec})
	t.Cleanup(func() { _ = s.Close() })
	p := testutil.WriteModelFile(t, t.TempDir(), "m.gguf", testutil.DefaultMeta)
	if err := s.Load(testutil.Ctx(t), p); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s, rec
}

func collect(t *testing.T, st *session.Stream) string {
	t.Helper()
	var sb strings.Builder
	for {
		frag, ok := st.Next()
		if !ok {
			break
		}
		sb.WriteString(frag)
	}
	return sb.String()
}

func waitState(t *testing.T, s *session.Session, want session.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := s.State()
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("state=%s want %s", got, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewIsIdle(t *testing.T) {
	s := session.New(session.Config{})
	defer s.Close()
	st := s.Status()
	if st.State != session.StateIdle || st.Model != nil {
		t.Fatalf("unexpected status: %+v", st)
	}
	if _, err := s.Generate(context.Background(), "hi"); !session.IsNotReady(err) {
		t.Fatalf("expected NotReady, got %v", err)
	}
}

// Loading a missing file fails the session and generation is refused.
func TestLoadMissingModelFails(t *testing.T) {
	rec := events.NewRecorder()
	s := session.New(session.Config{Backend: testutil.NewEngine(), Publisher: rec})
	defer s.Close()
	err := s.Load(testutil.Ctx(t), filepath.Join(t.TempDir(), "missing.gguf"))
	if !model.IsLoadError(err) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	state, reason := s.State()
	if state != session.StateFailed || !strings.Contains(reason, "model file not found") {
		t.Fatalf("state=%s reason=%q", state, reason)
	}
	if _, err := s.Generate(context.Background(), "hi"); !session.IsNotReady(err) {
		t.Fatalf("expected NotReady, got %v", err)
	}
	names := rec.Names()
	want := []string{session.EventStateChanged, session.EventLoadStarted, session.EventStateChanged, session.EventLoadFailed}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("events=%v", names)
	}
}

func TestLoadRetryAfterFailure(t *testing.T) {
	eng := testutil.NewEngine()
	s := session.New(session.Config{Backend: eng})
	defer s.Close()
	if err := s.Load(testutil.Ctx(t), filepath.Join(t.TempDir(), "missing.gguf")); err == nil {
		t.Fatalf("expected error")
	}
	p := testutil.WriteModelFile(t, t.TempDir(), "m.gguf", testutil.DefaultMeta)
	if err := s.Load(testutil.Ctx(t), p); err != nil {
		t.Fatalf("retry: %v", err)
	}
	st := s.Status()
	if st.State != session.StateReady || st.Model == nil || st.Model.Name != "tiny-test" || st.ModelPath != p {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestGenerateStreamsInOrder(t *testing.T) {
	eng := testutil.NewEngine()
	s, rec := newReady(t, eng)
	st, err := s.Generate(testutil.Ctx(t), "hello there")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if st.ID() != 1 {
		t.Fatalf("id=%d", st.ID())
	}
	if !s.IsGenerating() {
		t.Fatalf("expected generating")
	}
	if out := collect(t, st); out != "You said: hello there" {
		t.Fatalf("out=%q", out)
	}
	if err := st.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st.Cancelled() || st.Delivered() != 4 {
		t.Fatalf("cancelled=%v delivered=%d", st.Cancelled(), st.Delivered())
	}
	// the session settles before the stream closes
	if !s.Ready() {
		t.Fatalf("expected ready after completion")
	}
	if eng.Overlaps() != 0 {
		t.Fatalf("engine entered concurrently %d times", eng.Overlaps())
	}
	var finished *events.Event
	for _, e := range rec.Events() {
		if e.Name == session.EventGenerationFinished {
			e := e
			finished = &e
		}
	}
	if finished == nil || finished.Fields["outcome"] != session.OutcomeCompleted {
		t.Fatalf("missing completion event: %+v", finished)
	}
}

func TestGenerateRejectsReentry(t *testing.T) {
	eng := testutil.NewEngine()
	eng.Reply = testutil.LongReply(50)
	s, _ := newReady(t, eng)
	st, err := s.Generate(testutil.Ctx(t), "a")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := s.Generate(testutil.Ctx(t), "b"); !session.IsAlreadyGenerating(err) {
		t.Fatalf("expected AlreadyGenerating, got %v", err)
	}
	if err := s.Load(testutil.Ctx(t), "x.gguf"); !session.IsAlreadyGenerating(err) {
		t.Fatalf("expected load refused while generating, got %v", err)
	}
	collect(t, st)
	if got := eng.Prompts(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("prompts=%v", got)
	}
}

func TestCancelMidStream(t *testing.T) {
	eng := testutil.NewEngine()
	eng.Reply = testutil.LongReply(100)
	s, _ := newReady(t, eng)
	st, err := s.Generate(testutil.Ctx(t), "long story")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var got []string
	for i := 0; i < 3; i++ {
		frag, ok := st.Next()
		if !ok {
			t.Fatalf("stream ended early")
		}
		got = append(got, frag)
	}
	s.Cancel()
	s.Cancel()
	if err := st.Wait(); err != nil {
		t.Fatalf("cancel surfaced an error: %v", err)
	}
	if _, ok := st.Next(); ok {
		t.Fatalf("fragment delivered after cancel")
	}
	if !st.Cancelled() || st.Delivered() != len(got) {
		t.Fatalf("cancelled=%v delivered=%d", st.Cancelled(), st.Delivered())
	}
	state, _ := s.State()
	if state != session.StateReady {
		t.Fatalf("state=%s", state)
	}
	// cancelling with nothing running is a no-op
	s.Cancel()
	if !s.Ready() {
		t.Fatalf("expected ready")
	}
}

func TestCancelDuringStepDropsItsFragment(t *testing.T) {
	eng := testutil.NewEngine()
	eng.Reply = testutil.LongReply(100)
	eng.StepDelay = 5 * time.Millisecond
	s, _ := newReady(t, eng)
	for run := 0; run < 20; run++ {
		st, err := s.Generate(testutil.Ctx(t), "long story")
		if err != nil {
			t.Fatalf("run %d: generate: %v", run, err)
		}
		if _, ok := st.Next(); !ok {
			t.Fatalf("run %d: stream ended early", run)
		}
		// the producer is inside the next Step when Cancel lands
		cancelled := make(chan struct{})
		go func() {
			time.Sleep(2 * time.Millisecond)
			s.Cancel()
			close(cancelled)
		}()
		late := 0
		for {
			if _, ok := st.Next(); !ok {
				break
			}
			select {
			case <-cancelled:
				late++
			default:
			}
		}
		<-cancelled
		if err := st.Wait(); err != nil {
			t.Fatalf("run %d: wait: %v", run, err)
		}
		if late > 0 {
			t.Fatalf("run %d: %d fragments delivered after Cancel returned", run, late)
		}
		if !st.Cancelled() {
			t.Fatalf("run %d: stream not marked cancelled", run)
		}
		if st.Delivered() != 1 {
			t.Fatalf("run %d: delivered=%d want 1", run, st.Delivered())
		}
	}
}

func TestCancelWhileConsumerIsIdle(t *testing.T) {
	eng := testutil.NewEngine()
	eng.Reply = testutil.LongReply(10)
	s, _ := newReady(t, eng)
	st, err := s.Generate(testutil.Ctx(t), "x")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// the producer is parked on the hand-off; Cancel must release it
	s.Cancel()
	if err := st.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !s.Ready() {
		t.Fatalf("expected ready")
	}
}

func TestCancelGenerationIsScoped(t *testing.T) {
	eng := testutil.NewEngine()
	s, _ := newReady(t, eng)
	first, err := s.Generate(testutil.Ctx(t), "one")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	collect(t, first)
	second, err := s.Generate(testutil.Ctx(t), "two")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// a stale cancel for the finished generation must not touch the new one
	s.CancelGeneration(first.ID())
	if out := collect(t, second); out != "You said: two" {
		t.Fatalf("out=%q", out)
	}
	if second.Cancelled() {
		t.Fatalf("second generation was cancelled")
	}
}

func TestContextCancelStopsGeneration(t *testing.T) {
	eng := testutil.NewEngine()
	eng.Reply = testutil.LongReply(100)
	s, _ := newReady(t, eng)
	ctx, cancel := context.WithCancel(context.Background())
	st, err := s.Generate(ctx, "x")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, ok := st.Next(); !ok {
		t.Fatalf("no fragment")
	}
	cancel()
	collect(t, st)
	if err := st.Wait(); err != nil || !st.Cancelled() {
		t.Fatalf("err=%v cancelled=%v", err, st.Cancelled())
	}
	if !s.Ready() {
		t.Fatalf("expected ready")
	}
}

func TestIdenticalPromptsAreDeterministic(t *testing.T) {
	eng := testutil.NewEngine()
	eng.Reply = testutil.LongReply(20)
	s, _ := newReady(t, eng)

	// abandon the first generation half way
	st, err := s.Generate(testutil.Ctx(t), "same")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	st.Next()
	s.Cancel()
	_ = st.Wait()

	var outs []string
	for i := 0; i < 2; i++ {
		st, err := s.Generate(testutil.Ctx(t), "same")
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		outs = append(outs, collect(t, st))
	}
	if outs[0] != outs[1] || outs[0] != strings.Repeat("word ", 20) {
		t.Fatalf("outputs differ: %q vs %q", outs[0], outs[1])
	}
	if eng.Resets() < 3 {
		t.Fatalf("expected a reset after every generation, got %d", eng.Resets())
	}
}

func TestEngineErrorFailsSession(t *testing.T) {
	eng := testutil.NewEngine()
	eng.FailAt = 3
	s, _ := newReady(t, eng)
	st, err := s.Generate(testutil.Ctx(t), "boom now please")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	out := collect(t, st)
	if out != "You said: " {
		t.Fatalf("partial output=%q", out)
	}
	err = st.Wait()
	var ee *session.EngineError
	if !errors.As(err, &ee) || !errors.Is(err, testutil.ErrEngineFault) || ee.GenerationID != st.ID() {
		t.Fatalf("unexpected err: %v", err)
	}
	state, reason := s.State()
	if state != session.StateFailed || reason == "" {
		t.Fatalf("state=%s reason=%q", state, reason)
	}
	if _, err := s.Generate(testutil.Ctx(t), "again"); !session.IsNotReady(err) {
		t.Fatalf("expected NotReady after engine failure, got %v", err)
	}
}

func TestModelSwapDisposesPrevious(t *testing.T) {
	eng := testutil.NewEngine()
	s, _ := newReady(t, eng)
	meta := testutil.DefaultMeta
	meta.Name = "other"
	p := testutil.WriteModelFile(t, t.TempDir(), "other.gguf", meta)
	if err := s.Load(testutil.Ctx(t), p); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if eng.Closes() != 1 {
		t.Fatalf("previous runtime not closed, closes=%d", eng.Closes())
	}
	if st := s.Status(); st.Model == nil || st.Model.Name != "other" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestConcurrentLoadRefused(t *testing.T) {
	eng := testutil.NewEngine()
	eng.LoadDelay = 100 * time.Millisecond
	s := session.New(session.Config{Backend: eng})
	defer s.Close()
	p := testutil.WriteModelFile(t, t.TempDir(), "m.gguf", testutil.DefaultMeta)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Load(testutil.Ctx(t), p)
	}()
	waitState(t, s, session.StateLoading)
	if err := s.Load(testutil.Ctx(t), p); !session.IsLoadInProgress(err) {
		t.Fatalf("expected LoadInProgress, got %v", err)
	}
	if _, err := s.Generate(testutil.Ctx(t), "x"); !session.IsNotReady(err) {
		t.Fatalf("expected NotReady while loading, got %v", err)
	}
	wg.Wait()
	if !s.Ready() {
		t.Fatalf("expected ready")
	}
}

func TestCloseStopsGenerationAndDisposes(t *testing.T) {
	eng := testutil.NewEngine()
	eng.Reply = testutil.LongReply(100)
	s, _ := newReady(t, eng)
	st, err := s.Generate(testutil.Ctx(t), "x")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	st.Next()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-st.Done():
	default:
		t.Fatalf("stream still open after close")
	}
	if eng.Closes() != 1 {
		t.Fatalf("closes=%d", eng.Closes())
	}
	if _, err := s.Generate(testutil.Ctx(t), "x"); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
