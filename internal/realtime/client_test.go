package realtime

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/multi-agent/agent-sync/internal/model"
	"github.com/multi-agent/agent-sync/internal/protocol"
	apperrors "github.com/multi-agent/agent-sync/pkg/errors"
)

func TestChunksConcatenateIntoFinalMessage(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		last   string
	}{
		{"single", nil, "done"},
		{"two", []string{"Hel"}, "lo"},
		{"many", []string{"a", "b", "c", "d"}, "e"},
		{"with empty", []string{"x", "", "y"}, ""},
		{"unicode", []string{"你", "好"}, "!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w, store := newTestClient(t, Options{})
			connectTo(t, c, w, "s1")

			for _, ch := range tt.chunks {
				chunk(t, c, "m1", ch, false)
			}
			chunk(t, c, "m1", tt.last, true)

			want := strings.Join(tt.chunks, "") + tt.last
			msgs := store.all()
			if len(msgs) != 1 {
				t.Fatalf("store has %d messages, want 1", len(msgs))
			}
			if msgs[0].ID != "m1" || msgs[0].Content != want || msgs[0].Role != model.RoleAssistant {
				t.Fatalf("message = %+v, want id m1 content %q", msgs[0], want)
			}
			if _, live := c.StreamingContent("m1"); live {
				t.Fatal("streaming entry should be removed after completion")
			}
		})
	}
}

func TestChunkCompletionUpdatesExistingRecord(t *testing.T) {
	c, w, store := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")
	store.Append(model.Message{ID: "m1", Role: model.RoleAssistant, Content: "placeholder"})

	chunk(t, c, "m1", "real ", false)
	if got, _ := c.StreamingContent("m1"); got != "real " {
		t.Fatalf("StreamingContent = %q", got)
	}
	chunk(t, c, "m1", "content", true)

	msgs := store.all()
	if len(msgs) != 1 || msgs[0].Content != "real content" {
		t.Fatalf("store = %+v, want single updated record", msgs)
	}
}

func TestPartialChunkNotifiesAccumulatedContent(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	var got []string
	c.On(KindMessageChunk, func(ev Event) {
		got = append(got, ev.(MessageChunkEvent).Content)
	})
	chunk(t, c, "m1", "a", false)
	chunk(t, c, "m1", "b", false)
	chunk(t, c, "m1", "c", true)

	want := []string{"a", "ab", "abc"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("chunk contents = %v, want %v", got, want)
	}
}

func TestSubscribeTwiceSendsOnce(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	c.Connect("")
	open(c, w, false)

	if err := c.SubscribeToSession("x"); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := c.SubscribeToSession("x"); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	if n := w.count(protocol.EventSubscribeSession); n != 1 {
		t.Fatalf("subscribe frames = %d, want 1", n)
	}

	inbound(t, c, protocol.EventSubscribed, map[string]any{"session_id": "x"})
	_ = c.SubscribeToSession("x")
	if n := w.count(protocol.EventSubscribeSession); n != 1 {
		t.Fatalf("subscribe frames after ack = %d, want 1", n)
	}
}

func TestSubscribeWhileDisconnectedIsNoop(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})

	err := c.SubscribeToSession("s1")
	if !errors.Is(err, apperrors.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
	if c.Status() != StatusDisconnected {
		t.Fatalf("status changed to %s", c.Status())
	}
	if err := c.UnsubscribeFromSession(); !errors.Is(err, apperrors.ErrNotConnected) {
		t.Fatalf("unsubscribe: want ErrNotConnected, got %v", err)
	}
	if len(w.sent) != 0 {
		t.Fatalf("no frames expected, got %d", len(w.sent))
	}
}

func TestSwitchSessionUnsubscribesPrevious(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	if err := c.SubscribeToSession("s2"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if got := w.sessionsFor(protocol.EventUnsubscribeSession); len(got) != 1 || got[0] != "s1" {
		t.Fatalf("unsubscribe frames = %v, want [s1]", got)
	}
	if c.CurrentSessionID() != "" {
		t.Fatal("current session should clear until the new ack arrives")
	}
	inbound(t, c, protocol.EventSubscribed, map[string]any{"session_id": "s2"})
	if c.CurrentSessionID() != "s2" {
		t.Fatalf("current = %q, want s2", c.CurrentSessionID())
	}

	if err := c.UnsubscribeFromSession(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if c.CurrentSessionID() != "" {
		t.Fatal("unsubscribe should clear current session")
	}
	if err := c.UnsubscribeFromSession(); err != nil {
		t.Fatalf("second unsubscribe should be a no-op, got %v", err)
	}
	if n := w.count(protocol.EventUnsubscribeSession); n != 2 {
		t.Fatalf("unsubscribe frames = %d, want 2", n)
	}
}

func TestAckForUnrequestedSessionIgnored(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	var seen int
	c.On(KindSubscribed, func(Event) { seen++ })
	inbound(t, c, protocol.EventSubscribed, map[string]any{"session_id": "other"})
	if c.CurrentSessionID() != "s1" {
		t.Fatalf("current = %q, want s1", c.CurrentSessionID())
	}
	if seen != 1 {
		t.Fatal("event should still be dispatched")
	}
}

func TestWildcardReceivesEveryEventOnce(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")
	inbound(t, c, protocol.EventMessage, map[string]any{"message": map[string]any{"id": "a1", "role": "assistant", "content": "hi"}})

	var mu sync.Mutex
	wildcard := map[Kind]int{}
	c.On(KindAll, func(ev Event) {
		mu.Lock()
		wildcard[ev.Kind()]++
		mu.Unlock()
	})
	kinds := []Kind{KindToolCall, KindToolResult, KindMessageChunk, KindAgentThinking, KindError}
	for _, k := range kinds {
		c.On(k, func(Event) {})
		c.On(k, func(Event) {})
	}

	frames := []struct {
		event string
		data  any
	}{
		{protocol.EventAgentThinking, map[string]any{}},
		{protocol.EventToolCall, map[string]any{"tool_name": "search", "arguments": map[string]any{"q": "x"}}},
		{protocol.EventToolResult, map[string]any{"tool_name": "search", "result": "ok", "status": "success"}},
		{protocol.EventMessageChunk, map[string]any{"message_id": "m2", "chunk": "x", "is_complete": false}},
		{protocol.EventAgentThought, map[string]any{"content": "hmm"}},
		{protocol.EventWorkflowUpdate, map[string]any{"payload": map[string]any{"phase": "plan"}}},
		{protocol.EventArtifactUpdate, map[string]any{"artifact_path": "a.md", "action": "created"}},
		{protocol.EventSessionUpdate, map[string]any{"status": "running"}},
		{protocol.EventRefinementApplied, map[string]any{"content": "v2"}},
		{protocol.EventWaitingForInput, map[string]any{}},
		{protocol.EventAgentFinished, map[string]any{"reason": "done"}},
		{protocol.EventError, map[string]any{"message": "boom", "code": 500}},
		{protocol.EventPong, map[string]any{}},
		{protocol.EventConnected, map[string]any{"sid": "abc"}},
		{protocol.EventUnsubscribed, map[string]any{"session_id": "zzz"}},
	}
	for _, f := range frames {
		inbound(t, c, f.event, f.data)
	}

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for k, n := range wildcard {
		if n != 1 {
			t.Errorf("kind %s seen %d times, want 1", k, n)
		}
		total += n
	}
	if total != len(frames) {
		t.Fatalf("wildcard saw %d events, want %d", total, len(frames))
	}
}

func TestAgentEventWrapperIsUnwrapped(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")
	inbound(t, c, protocol.EventMessage, map[string]any{"message": map[string]any{"id": "a1", "role": "assistant", "content": "hi"}})

	var calls []ToolCallEvent
	c.On(KindToolCall, func(ev Event) { calls = append(calls, ev.(ToolCallEvent)) })

	inbound(t, c, protocol.EventAgentEvent, map[string]any{
		"type":    "tool_call",
		"payload": map[string]any{"tool_name": "search", "arguments": map[string]any{"q": "x"}},
	})
	inbound(t, c, protocol.EventToolCall, map[string]any{"tool_name": "read", "args": map[string]any{"path": "a"}})

	if len(calls) != 2 {
		t.Fatalf("tool call events = %d, want 2", len(calls))
	}
	if calls[0].Call.Name != "search" || string(calls[0].Call.Arguments) != `{"q":"x"}` {
		t.Fatalf("wrapped call = %+v", calls[0].Call)
	}
	if calls[0].MessageID != "a1" || len(calls[1].ToolCalls) != 2 {
		t.Fatalf("calls not attached to current message: %+v", calls[1])
	}
}

func TestWaitingForInputRequiresStartedTurn(t *testing.T) {
	c, w, _ := newTestClient(t, Options{FallbackIdle: time.Hour})
	connectTo(t, c, w, "s1")

	if err := c.SendMessage("hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !c.IsProcessing() {
		t.Fatal("busy should be true right after send")
	}

	var waits int
	c.On(KindWaitingForInput, func(Event) { waits++ })

	inbound(t, c, protocol.EventWaitingForInput, map[string]any{"sequence": 1})
	if !c.IsProcessing() {
		t.Fatal("premature waiting_for_input must not clear busy")
	}
	if waits != 0 {
		t.Fatal("premature waiting_for_input must be discarded")
	}

	inbound(t, c, protocol.EventAgentThinking, map[string]any{})
	inbound(t, c, protocol.EventWaitingForInput, map[string]any{"sequence": 2})
	if c.IsProcessing() {
		t.Fatal("waiting_for_input after thinking must clear busy")
	}
	if !c.WaitingForInput() || waits != 1 {
		t.Fatalf("waiting = %v, dispatched = %d", c.WaitingForInput(), waits)
	}

	// agent_finished 复位 guard, 下一次 waiting 又是过早的
	inbound(t, c, protocol.EventAgentThinking, map[string]any{})
	inbound(t, c, protocol.EventAgentFinished, map[string]any{})
	if c.IsProcessing() {
		t.Fatal("agent_finished must clear busy")
	}
	inbound(t, c, protocol.EventToolCall, map[string]any{"tool_name": "x"})
	inbound(t, c, protocol.EventAgentFinished, map[string]any{})
	inbound(t, c, protocol.EventWaitingForInput, map[string]any{})
	if waits != 1 {
		t.Fatalf("waiting after finished should be discarded, dispatched = %d", waits)
	}
}

func TestEmptyChunkDoesNotStartTurn(t *testing.T) {
	c, w, _ := newTestClient(t, Options{FallbackIdle: time.Hour})
	connectTo(t, c, w, "s1")
	_ = c.SendMessage("hi")

	chunk(t, c, "m1", "", false)
	inbound(t, c, protocol.EventWaitingForInput, map[string]any{})
	if !c.IsProcessing() {
		t.Fatal("an empty chunk must not arm the started guard")
	}
	chunk(t, c, "m1", "x", false)
	inbound(t, c, protocol.EventWaitingForInput, map[string]any{})
	if c.IsProcessing() {
		t.Fatal("non-empty chunk should arm the guard")
	}
}

func TestSendThenStreamClearsBusyAfterFallback(t *testing.T) {
	c, w, store := newTestClient(t, Options{FallbackIdle: 30 * time.Millisecond})
	connectTo(t, c, w, "s1")

	if err := c.SendMessage("hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !c.IsProcessing() {
		t.Fatal("busy should be true immediately after send")
	}
	if n := w.count(protocol.EventSendMessage); n != 1 {
		t.Fatalf("message frames = %d, want 1", n)
	}

	chunk(t, c, "m1", "Hel", false)
	chunk(t, c, "m1", "lo", true)

	var assistant []model.Message
	for _, m := range store.all() {
		if m.Role == model.RoleAssistant {
			assistant = append(assistant, m)
		}
	}
	if len(assistant) != 1 || assistant[0].ID != "m1" || assistant[0].Content != "Hello" {
		t.Fatalf("assistant messages = %+v", assistant)
	}
	if !c.IsProcessing() {
		t.Fatal("busy should hold until the fallback fires")
	}
	eventually(t, time.Second, func() bool { return !c.IsProcessing() }, "fallback did not clear busy")
}

func TestNewSignalCancelsFallback(t *testing.T) {
	c, w, _ := newTestClient(t, Options{FallbackIdle: 30 * time.Millisecond})
	connectTo(t, c, w, "s1")
	_ = c.SendMessage("hi")

	chunk(t, c, "m1", "first", true)
	inbound(t, c, protocol.EventToolCall, map[string]any{"tool_name": "search"})
	time.Sleep(80 * time.Millisecond)
	if !c.IsProcessing() {
		t.Fatal("tool_call should cancel the pending fallback")
	}
}

func TestToolResultCorrelatesByName(t *testing.T) {
	c, w, store := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")
	inbound(t, c, protocol.EventMessage, map[string]any{"message": map[string]any{"id": "a1", "role": "assistant", "content": "let me look"}})

	inbound(t, c, protocol.EventToolCall, map[string]any{"name": "search", "args": map[string]any{"q": "x"}})
	inbound(t, c, protocol.EventToolResult, map[string]any{"name": "search", "result": "ok", "status": "success"})

	msgID, calls := c.CurrentTurn()
	if msgID != "a1" || len(calls) != 1 {
		t.Fatalf("turn = %s %+v", msgID, calls)
	}
	if calls[0].Name != "search" || calls[0].ResultText() != "ok" || calls[0].Error != "" {
		t.Fatalf("record = %+v", calls[0])
	}
	stored, _ := store.Get("a1")
	if len(stored.ToolCalls) != 1 || stored.ToolCalls[0].ResultText() != "ok" {
		t.Fatalf("store not updated: %+v", stored.ToolCalls)
	}
}

func TestToolResultFailureSetsError(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")
	inbound(t, c, protocol.EventMessage, map[string]any{"message": map[string]any{"id": "a1", "role": "assistant"}})

	inbound(t, c, protocol.EventToolCall, map[string]any{"tool_name": "search"})
	inbound(t, c, protocol.EventToolCall, map[string]any{"tool_name": "search"})
	inbound(t, c, protocol.EventToolResult, map[string]any{"tool_name": "search", "result": "rate limited", "status": "error"})

	_, calls := c.CurrentTurn()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Resolved() {
		t.Fatal("older call should remain unresolved")
	}
	if calls[1].Error != "rate limited" || calls[1].Result != nil || calls[1].Status != model.ToolStatusFailed {
		t.Fatalf("latest call = %+v", calls[1])
	}
}

func TestToolResultPrefersCallID(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")
	inbound(t, c, protocol.EventMessage, map[string]any{"message": map[string]any{"id": "a1", "role": "assistant"}})

	inbound(t, c, protocol.EventToolCall, map[string]any{"tool_name": "search", "call_id": "c1"})
	inbound(t, c, protocol.EventToolCall, map[string]any{"tool_name": "search", "call_id": "c2"})
	inbound(t, c, protocol.EventToolResult, map[string]any{"tool_name": "search", "call_id": "c1", "result": 1, "status": "success"})

	_, calls := c.CurrentTurn()
	if !calls[0].Resolved() || calls[1].Resolved() {
		t.Fatalf("id join picked the wrong record: %+v", calls)
	}
}

func TestToolCallWithoutCurrentMessageStillReported(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	cb := &countingCallbacks{}
	c.SetStoreCallbacks(cb)
	inbound(t, c, protocol.EventToolCall, map[string]any{"tool_name": "search"})
	inbound(t, c, protocol.EventToolResult, map[string]any{"tool_name": "search", "result": "ok", "status": "success"})

	if cb.toolCalls != 1 || cb.toolResults != 1 {
		t.Fatalf("callbacks = %+v", cb)
	}
	if cb.toolCallMessages != 0 || cb.toolResultMessages != 0 {
		t.Fatal("message-level callbacks need a current message")
	}
}

func TestDisconnectCancelsPendingFallback(t *testing.T) {
	c, w, _ := newTestClient(t, Options{FallbackIdle: 30 * time.Millisecond})
	connectTo(t, c, w, "s1")
	_ = c.SendMessage("hi")
	chunk(t, c, "m1", "done", true)

	rec := &recorder{}
	c.OnProcessingChange(rec.record)
	c.Disconnect()
	after := rec.len()

	time.Sleep(100 * time.Millisecond)
	if rec.len() != after {
		t.Fatalf("busy listener fired after disconnect: %v", rec.values)
	}
	if c.IsProcessing() || c.Status() != StatusDisconnected {
		t.Fatal("disconnect must reset to idle")
	}
	if c.CurrentSessionID() != "" {
		t.Fatal("disconnect must clear subscription")
	}
}

func TestSessionSwitchResetsDerivedState(t *testing.T) {
	c, w, _ := newTestClient(t, Options{FallbackIdle: 30 * time.Millisecond})
	connectTo(t, c, w, "s1")
	_ = c.SendMessage("hi")
	chunk(t, c, "m1", "partial", false)

	if err := c.SubscribeToSession("s2"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if c.IsProcessing() {
		t.Fatal("switch must reset busy")
	}
	if _, live := c.StreamingContent("m1"); live {
		t.Fatal("switch must drop streaming buffers")
	}
}

func TestConnectWhileConnectingKeepsLatestSession(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})

	c.Connect("s1")
	c.Connect("s2")
	if w.opens != 1 {
		t.Fatalf("transport opened %d times, want 1", w.opens)
	}
	open(c, w, false)
	inbound(t, c, protocol.EventSubscribed, map[string]any{"session_id": "s2"})

	if got := w.sessionsFor(protocol.EventSubscribeSession); len(got) != 1 || got[0] != "s2" {
		t.Fatalf("subscribe frames = %v, want [s2]", got)
	}
	if c.CurrentSessionID() != "s2" {
		t.Fatalf("current = %q, want s2", c.CurrentSessionID())
	}
}

func TestConnectWhenConnectedDelegatesToSubscribe(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	c.Connect("s1")
	c.Connect("s2")
	if w.opens != 1 {
		t.Fatalf("transport reopened: %d", w.opens)
	}
	if got := w.sessionsFor(protocol.EventSubscribeSession); len(got) != 2 || got[1] != "s2" {
		t.Fatalf("subscribe frames = %v", got)
	}
}

func TestReconnectResubscribes(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	var statuses []Status
	c.OnStatusChange(func(s Status) { statuses = append(statuses, s) })

	w.setConnected(false)
	c.onDropped(errors.New("read: connection reset"))
	if c.Status() != StatusConnecting || c.CurrentSessionID() != "" {
		t.Fatalf("after drop: status=%s current=%q", c.Status(), c.CurrentSessionID())
	}
	open(c, w, true)
	if got := w.sessionsFor(protocol.EventSubscribeSession); len(got) != 2 || got[1] != "s1" {
		t.Fatalf("subscribe frames = %v, want re-subscribe to s1", got)
	}

	want := []Status{StatusConnected, StatusConnecting, StatusConnected}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}
}

func TestDialFailureReportsErrorWithoutReturning(t *testing.T) {
	c, _, _ := newTestClient(t, Options{})
	cb := &countingCallbacks{}
	c.SetStoreCallbacks(cb)

	var connectErrs []ConnectErrorEvent
	c.On(KindConnectError, func(ev Event) { connectErrs = append(connectErrs, ev.(ConnectErrorEvent)) })

	c.Connect("s1")
	c.onDialFailed(errors.New("dial tcp: refused"), 1, true)
	if c.Status() != StatusError {
		t.Fatalf("status = %s, want error", c.Status())
	}
	if len(connectErrs) != 1 || !connectErrs[0].WillRetry {
		t.Fatalf("connect errors = %+v", connectErrs)
	}
	if len(cb.errors) != 1 || cb.errors[0].Source != ErrorSourceTransport {
		t.Fatalf("OnError = %+v", cb.errors)
	}
}

func TestSendMessageWithoutSession(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	if err := c.SendMessage("hi"); !errors.Is(err, apperrors.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}

	c.Connect("")
	open(c, w, false)
	err := c.SendMessage("hi")
	if !errors.Is(err, apperrors.ErrNoSession) {
		t.Fatalf("want ErrNoSession, got %v", err)
	}
	if apperrors.CodeOf(err) != apperrors.CodeState {
		t.Fatalf("code = %q", apperrors.CodeOf(err))
	}
	if c.IsProcessing() {
		t.Fatal("failed send must not change busy")
	}
	if err := c.SendMessage("   "); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestSendMessageUsesPendingSession(t *testing.T) {
	c, w, store := newTestClient(t, Options{})
	c.Connect("s1")
	open(c, w, false)

	if err := c.SendMessage("early"); err != nil {
		t.Fatalf("SendMessage before ack: %v", err)
	}
	msgs := store.all()
	if len(msgs) != 1 || msgs[0].Role != model.RoleUser || msgs[0].Content != "early" || msgs[0].ID == "" {
		t.Fatalf("store = %+v", msgs)
	}
}

func TestStoreCallbacksRunBeforeHandlers(t *testing.T) {
	c, w, store := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	var order []string
	first := &orderCallbacks{name: "cb1", order: &order}
	second := &orderCallbacks{name: "cb2", order: &order}
	c.SetStoreCallbacks(first)
	c.SetStoreCallbacks(second)

	c.On(KindMessage, func(ev Event) {
		order = append(order, "handler")
		if _, ok := store.Get(ev.(MessageEvent).Message.ID); !ok {
			t.Error("handler should observe the stored message")
		}
	})
	c.On(KindAll, func(Event) { order = append(order, "wildcard") })

	inbound(t, c, protocol.EventMessage, map[string]any{"id": "a1", "content": "hi"})

	want := "cb1,cb2,handler,wildcard"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("order = %s, want %s", got, want)
	}
}

func TestUnsubscribeMidDispatch(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	var calls int
	var unsubB func()
	c.On(KindAgentThought, func(Event) {
		calls++
		unsubB()
		unsubB()
	})
	unsubB = c.On(KindAgentThought, func(Event) { calls++ })

	inbound(t, c, protocol.EventAgentThought, map[string]any{"content": "a"})
	inbound(t, c, protocol.EventAgentThought, map[string]any{"content": "b"})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (snapshot then removal)", calls)
	}
}

func TestHandlerCanReenterClient(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	var busyDuringHandler bool
	c.On(KindAgentFinished, func(Event) {
		if err := c.SendMessage("follow up"); err != nil {
			t.Errorf("reentrant send: %v", err)
		}
		busyDuringHandler = c.IsProcessing()
	})
	c.On(KindMessage, func(Event) { panic("boom") })

	inbound(t, c, protocol.EventMessage, map[string]any{"id": "a1", "content": "x"})
	inbound(t, c, protocol.EventAgentFinished, map[string]any{})
	if !busyDuringHandler {
		t.Fatal("reentrant send should start a new turn")
	}
}

func TestDuplicateMessageSuppressed(t *testing.T) {
	c, w, store := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	var seen int
	c.On(KindMessage, func(Event) { seen++ })
	inbound(t, c, protocol.EventMessage, map[string]any{"id": "a1", "content": "v1", "sequence": 1})
	inbound(t, c, protocol.EventMessage, map[string]any{"id": "a1", "content": "v1", "sequence": 1})
	inbound(t, c, protocol.EventMessage, map[string]any{"id": "a1", "content": "v2", "sequence": 2})

	if seen != 2 {
		t.Fatalf("dispatched = %d, want 2", seen)
	}
	msgs := store.all()
	if len(msgs) != 1 || msgs[0].Content != "v2" {
		t.Fatalf("store = %+v", msgs)
	}
}

func TestStatusListenerReceivesCurrentImmediately(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")

	var got []Status
	unsub := c.OnStatusChange(func(s Status) { got = append(got, s) })
	if len(got) != 1 || got[0] != StatusConnected {
		t.Fatalf("immediate call = %v", got)
	}
	unsub()
	c.Disconnect()
	if len(got) != 1 {
		t.Fatalf("listener called after unsubscribe: %v", got)
	}

	var busy []bool
	c.OnProcessingChange(func(b bool) { busy = append(busy, b) })
	if len(busy) != 1 || busy[0] {
		t.Fatalf("processing immediate call = %v", busy)
	}
}

func TestPongCarriesRTT(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")
	base := time.Unix(1_700_000_000, 0)
	now := base
	c.norm.now = func() time.Time { return now }

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	var pong PongEvent
	c.On(KindPong, func(ev Event) { pong = ev.(PongEvent) })
	now = base.Add(42 * time.Millisecond)
	inbound(t, c, protocol.EventPong, map[string]any{})
	if pong.RTT != 42*time.Millisecond {
		t.Fatalf("RTT = %v", pong.RTT)
	}
}

func TestResetReturnsToPristineState(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	connectTo(t, c, w, "s1")
	var calls int
	c.On(KindAll, func(Event) { calls++ })

	c.Reset()
	if c.Status() != StatusDisconnected || c.CurrentSessionID() != "" {
		t.Fatal("reset should disconnect")
	}
	calls = 0
	c.Connect("s2")
	open(c, w, false)
	inbound(t, c, protocol.EventSubscribed, map[string]any{"session_id": "s2"})
	if calls != 0 {
		t.Fatal("handlers should be cleared by Reset")
	}
	if c.CurrentSessionID() != "s2" {
		t.Fatal("client should be reusable after Reset")
	}
}

func TestCloseMakesConnectNoop(t *testing.T) {
	c, w, _ := newTestClient(t, Options{})
	c.Close()
	c.Connect("s1")
	if w.opens != 0 || c.Status() != StatusDisconnected {
		t.Fatal("closed client must not connect")
	}
}

// countingCallbacks 统计回调次数。
type countingCallbacks struct {
	NopCallbacks
	toolCalls          int
	toolResults        int
	toolCallMessages   int
	toolResultMessages int
	messages           int
	errors             []ErrorInfo
}

func (c *countingCallbacks) OnMessage(model.Message) { c.messages++ }

func (c *countingCallbacks) OnToolCall(model.ToolCall)                    { c.toolCalls++ }
func (c *countingCallbacks) OnToolResult(model.ToolCall)                  { c.toolResults++ }
func (c *countingCallbacks) OnToolCallMessage(string, []model.ToolCall)   { c.toolCallMessages++ }
func (c *countingCallbacks) OnToolResultMessage(string, []model.ToolCall) { c.toolResultMessages++ }
func (c *countingCallbacks) OnError(info ErrorInfo)                       { c.errors = append(c.errors, info) }

type orderCallbacks struct {
	NopCallbacks
	name  string
	order *[]string
}

func (o *orderCallbacks) OnMessage(model.Message) { *o.order = append(*o.order, o.name) }
