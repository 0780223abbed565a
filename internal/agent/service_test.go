package agent

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/zapdeskhq/zapdesk/internal/providers"
	"github.com/zapdeskhq/zapdesk/internal/store"
	"github.com/zapdeskhq/zapdesk/internal/store/sqlite"
	"github.com/zapdeskhq/zapdesk/internal/whatsapp"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []whatsapp.SendOptions
	fail  bool
	notif chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{notif: make(chan struct{}, 16)}
}

func (r *recordingSender) Send(ctx context.Context, opts whatsapp.SendOptions) whatsapp.SendResult {
	r.mu.Lock()
	r.sent = append(r.sent, opts)
	r.mu.Unlock()
	r.notif <- struct{}{}
	if r.fail {
		return whatsapp.SendResult{Success: false, Error: "delivery refused"}
	}
	return whatsapp.SendResult{Success: true, MessageID: "wamid.sent"}
}

func (r *recordingSender) waitForSend(t *testing.T) whatsapp.SendOptions {
	t.Helper()
	select {
	case <-r.notif:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for outbound delivery")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// newServiceFixture wires a full inbound pipeline against in-memory storage
// and a scripted model.
func newServiceFixture(t *testing.T, responses []generateStep) (*store.Stores, *Service, *recordingSender, *fakeClient) {
	t.Helper()

	db, err := sqlite.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	stores := sqlite.StoresFromDB(db)

	agentCfg := &store.AgentConfig{
		Name:            "Suporte",
		SystemPrompt:    "Você é um atendente.",
		Model:           "gemini-2.0-flash",
		Temperature:     0.7,
		MaxTokens:       1024,
		DebounceSeconds: 1, // shortest configurable window
		Active:          true,
		Default:         true,
	}
	if err := stores.Agents.Create(context.Background(), agentCfg); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{responses: responses}
	orch := NewOrchestrator(&fakeResolver{client: client}, stores.Logs, stores.Knowledge)
	orch.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	sender := newRecordingSender()
	service := NewService(stores, orch, sender, 50*time.Millisecond)

	// Tests drive the debounce with a short window regardless of the agent
	// row's configured seconds.
	return stores, service, sender, client
}

func insertInbound(t *testing.T, stores *store.Stores, phone, content string) (*store.Conversation, *store.Message) {
	t.Helper()
	ctx := context.Background()
	conv, err := stores.Conversations.EnsureByPhone(ctx, phone, "")
	if err != nil {
		t.Fatal(err)
	}
	m := &store.Message{ConversationID: conv.ID, Direction: store.DirectionInbound, Content: content}
	if err := stores.Messages.Insert(ctx, m); err != nil {
		t.Fatal(err)
	}
	return conv, m
}

func TestService_BurstProducesOneReply(t *testing.T) {
	stores, service, sender, client := newServiceFixture(t, []generateStep{
		{resp: validJSONResponse("Respondo as três de uma vez.")},
	})
	ctx := context.Background()

	conv, m1 := insertInbound(t, stores, "+5511999999999", "oi")
	_, m2 := insertInbound(t, stores, "+5511999999999", "tudo bem?")
	_, m3 := insertInbound(t, stores, "+5511999999999", "meu pedido atrasou")

	// Bypass the agent's configured window: schedule directly with short
	// windows the way OnInboundMessage does.
	for _, m := range []*store.Message{m1, m2, m3} {
		ch := service.coordinator.Schedule(conv.ID.String(), m.ID.String(), 40*time.Millisecond)
		go func(ch <-chan []string) {
			if ids := <-ch; ids != nil {
				service.processBatch(ctx, conv.ID, ids)
			}
		}(ch)
	}

	sent := sender.waitForSend(t)
	if sent.Text != "Respondo as três de uma vez." {
		t.Errorf("sent %q", sent.Text)
	}
	if sent.To != "+5511999999999" {
		t.Errorf("sent to %q", sent.To)
	}
	if client.calls != 1 {
		t.Errorf("model called %d times for one burst", client.calls)
	}

	// The whole batch lands in one interaction log.
	logs, err := stores.Logs.ListByConversation(ctx, conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d logs, want 1", len(logs))
	}
	if len(logs[0].MessageIDs) != 3 {
		t.Errorf("log covers %d message ids, want 3", len(logs[0].MessageIDs))
	}

	// The reply is persisted as an outbound message.
	msgs, _ := stores.Messages.Recent(ctx, conv.ID, 10)
	last := msgs[len(msgs)-1]
	if last.Direction != store.DirectionOutbound || last.Content != "Respondo as três de uma vez." {
		t.Errorf("last message = %+v", last)
	}
}

func TestService_HandoffUpdatesStatus(t *testing.T) {
	stores, service, sender, _ := newServiceFixture(t, []generateStep{
		{resp: &providers.GenerateResponse{
			Content:      `{"message":"Vou te transferir para um atendente.","sentiment":"frustrated","confidence":0.9,"shouldHandoff":true,"handoffReason":"pedido explícito"}`,
			FinishReason: "stop",
		}},
	})
	ctx := context.Background()

	conv, m := insertInbound(t, stores, "+5511999999999", "quero falar com um humano AGORA")
	service.processBatch(ctx, conv.ID, []string{m.ID.String()})

	sender.waitForSend(t)

	got, _ := stores.Conversations.Get(ctx, conv.ID)
	if got.Status != store.StatusHandoff {
		t.Errorf("Status = %q, want handoff", got.Status)
	}
}

func TestService_HandedOffConversationIsSkipped(t *testing.T) {
	stores, service, sender, client := newServiceFixture(t, []generateStep{
		{resp: validJSONResponse("não deveria responder")},
	})
	ctx := context.Background()

	conv, m := insertInbound(t, stores, "+5511999999999", "oi de novo")
	if err := stores.Conversations.UpdateStatus(ctx, conv.ID, store.StatusHandoff); err != nil {
		t.Fatal(err)
	}

	service.processBatch(ctx, conv.ID, []string{m.ID.String()})

	if client.calls != 0 {
		t.Error("agent ran on a handed-off conversation")
	}
	if sender.count() != 0 {
		t.Error("reply sent on a handed-off conversation")
	}
}

func TestService_InactiveAgentIsSkipped(t *testing.T) {
	stores, service, sender, client := newServiceFixture(t, []generateStep{
		{resp: validJSONResponse("não deveria responder")},
	})
	ctx := context.Background()

	def, err := stores.Agents.GetDefault(ctx)
	if err != nil {
		t.Fatal(err)
	}
	def.Active = false
	if err := stores.Agents.Update(ctx, def); err != nil {
		t.Fatal(err)
	}

	conv, m := insertInbound(t, stores, "+5511999999999", "oi")
	service.processBatch(ctx, conv.ID, []string{m.ID.String()})

	if client.calls != 0 || sender.count() != 0 {
		t.Error("inactive agent still produced a reply")
	}
}

func TestService_DeliveryFailureKeepsTranscript(t *testing.T) {
	stores, service, sender, _ := newServiceFixture(t, []generateStep{
		{resp: validJSONResponse("resposta que não chega")},
	})
	sender.fail = true
	ctx := context.Background()

	conv, m := insertInbound(t, stores, "+5511999999999", "oi")
	service.processBatch(ctx, conv.ID, []string{m.ID.String()})

	// Outbound message stored even though the channel rejected it.
	msgs, _ := stores.Messages.Recent(ctx, conv.ID, 10)
	if len(msgs) != 2 || msgs[1].Direction != store.DirectionOutbound {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestService_BurstWaitersDoNotAccumulate(t *testing.T) {
	stores, service, sender, client := newServiceFixture(t, []generateStep{
		{resp: validJSONResponse("uma resposta só")},
	})
	ctx := context.Background()

	conv, first := insertInbound(t, stores, "+5511999999999", "oi")
	baseline := runtime.NumGoroutine()

	// Each inbound message parks a waiter; superseded waiters must be
	// released when the next message re-arms the batch, not held until
	// shutdown.
	service.OnInboundMessage(ctx, conv.ID, first.ID)
	for i := 0; i < 39; i++ {
		_, m := insertInbound(t, stores, "+5511999999999", "mais uma")
		service.OnInboundMessage(ctx, conv.ID, m.ID)
	}

	sender.waitForSend(t)
	if client.calls != 1 {
		t.Errorf("model called %d times for one burst", client.calls)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("goroutines = %d, baseline %d: superseded waiters still parked",
		runtime.NumGoroutine(), baseline)
}

func TestService_ProcessNowCancelsPendingBatch(t *testing.T) {
	stores, service, sender, client := newServiceFixture(t, []generateStep{
		{resp: validJSONResponse("resposta imediata")},
	})
	ctx := context.Background()

	conv, m := insertInbound(t, stores, "+5511999999999", "oi")
	service.coordinator.Schedule(conv.ID.String(), m.ID.String(), time.Hour)

	service.ProcessNow(ctx, conv.ID)

	if service.coordinator.PendingCount() != 0 {
		t.Error("pending batch survived ProcessNow")
	}
	if client.calls != 1 {
		t.Errorf("model called %d times", client.calls)
	}
	sent := sender.waitForSend(t)
	if sent.Text != "resposta imediata" {
		t.Errorf("sent %q", sent.Text)
	}
}

