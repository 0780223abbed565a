package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapdeskhq/zapdesk/internal/debounce"
	"github.com/zapdeskhq/zapdesk/internal/store"
	"github.com/zapdeskhq/zapdesk/internal/whatsapp"
)

// MessageSender delivers an outbound message. *whatsapp.Sender satisfies
// this.
type MessageSender interface {
	Send(ctx context.Context, opts whatsapp.SendOptions) whatsapp.SendResult
}

// Service is the inbound pipeline: a stored inbound message enters, and
// after the debounce window closes the agent runs once over the batch and
// the reply goes out. Safe for concurrent use.
type Service struct {
	stores       *store.Stores
	orchestrator *Orchestrator
	coordinator  *debounce.Coordinator
	sender       MessageSender

	defaultDebounce time.Duration

	// convLocks serializes agent runs per conversation so two batches that
	// fire close together cannot interleave their replies.
	convLocks sync.Map // conversation id -> *sync.Mutex
}

// NewService wires the inbound pipeline. defaultDebounce applies when the
// agent config does not set its own window.
func NewService(stores *store.Stores, orch *Orchestrator, sender MessageSender, defaultDebounce time.Duration) *Service {
	return &Service{
		stores:          stores,
		orchestrator:    orch,
		coordinator:     debounce.New(),
		sender:          sender,
		defaultDebounce: defaultDebounce,
	}
}

// Coordinator exposes the debounce scheduler for status endpoints.
func (s *Service) Coordinator() *debounce.Coordinator { return s.coordinator }

func (s *Service) lockFor(conversationID uuid.UUID) *sync.Mutex {
	mu, _ := s.convLocks.LoadOrStore(conversationID.String(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// OnInboundMessage schedules an already-persisted inbound message for
// debounced processing. Returns immediately; the agent run happens in the
// background once the quiet period elapses. ctx should outlive the debounce
// window (typically the server's base context, not the request's).
func (s *Service) OnInboundMessage(ctx context.Context, conversationID uuid.UUID, messageID uuid.UUID) {
	window := s.debounceWindow(ctx, conversationID)

	ch := s.coordinator.Schedule(conversationID.String(), messageID.String(), window)

	go func() {
		select {
		case <-ctx.Done():
			s.coordinator.Cancel(conversationID.String())
		case ids, ok := <-ch:
			// A closed channel means a newer message superseded this
			// schedule; its own waiter owns the batch.
			if !ok {
				return
			}
			s.processBatch(ctx, conversationID, ids)
		}
	}()
}

// debounceWindow resolves the quiet period for a conversation from its
// default agent's config, falling back to the service default.
func (s *Service) debounceWindow(ctx context.Context, conversationID uuid.UUID) time.Duration {
	agentCfg, err := s.stores.Agents.GetDefault(ctx)
	if err != nil || agentCfg.DebounceSeconds <= 0 {
		return s.defaultDebounce
	}
	return time.Duration(agentCfg.DebounceSeconds) * time.Second
}

// ProcessNow bypasses the debounce window and runs the agent immediately
// over the conversation's recent history. Any pending batch is cancelled so
// its timer cannot produce a second reply.
func (s *Service) ProcessNow(ctx context.Context, conversationID uuid.UUID) {
	s.coordinator.Cancel(conversationID.String())
	s.processBatch(ctx, conversationID, nil)
}

// processBatch runs the agent once over a debounced batch and delivers the
// reply. Serialized per conversation.
func (s *Service) processBatch(ctx context.Context, conversationID uuid.UUID, messageIDs []string) {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	log := slog.With("conversation", conversationID)

	conv, err := s.stores.Conversations.Get(ctx, conversationID)
	if err != nil {
		log.Error("load conversation for batch", "error", err)
		return
	}

	// A human already took over: the agent stays out of the conversation.
	if conv.Status == store.StatusHandoff {
		log.Info("skipping batch, conversation handed off", "messages", len(messageIDs))
		return
	}

	agentCfg, err := s.stores.Agents.GetDefault(ctx)
	if err != nil {
		log.Error("no default agent configured", "error", err)
		return
	}
	if !agentCfg.Active {
		log.Info("default agent inactive, skipping batch")
		return
	}

	history, err := s.stores.Messages.Recent(ctx, conversationID, historyWindow)
	if err != nil {
		log.Error("load message history", "error", err)
		return
	}
	if len(history) == 0 {
		return
	}

	result := s.orchestrator.Process(ctx, Request{
		Agent:        agentCfg,
		Conversation: conv,
		Messages:     history,
	})

	log.Info("agent run complete",
		"success", result.Success,
		"handoff", result.Decision.ShouldHandoff,
		"latency_ms", result.LatencyMs,
		"batch_size", len(messageIDs))

	s.deliver(ctx, conv, result.Decision, log)

	if result.Decision.ShouldHandoff {
		if err := s.stores.Conversations.UpdateStatus(ctx, conversationID, store.StatusHandoff); err != nil {
			log.Error("mark conversation handed off", "error", err)
		}
	}
}

// deliver persists the outbound message and sends it through the channel.
// The message is stored before the send so the transcript stays complete
// even when delivery fails.
func (s *Service) deliver(ctx context.Context, conv *store.Conversation, decision *Decision, log *slog.Logger) {
	outbound := store.Message{
		ID:             store.GenNewID(),
		ConversationID: conv.ID,
		Direction:      store.DirectionOutbound,
		Content:        decision.Message,
	}
	if err := s.stores.Messages.Insert(ctx, &outbound); err != nil {
		log.Error("persist outbound message", "error", err)
	}

	if s.sender == nil {
		return
	}

	res := s.sender.Send(ctx, whatsapp.SendOptions{
		To:   conv.Phone,
		Text: decision.Message,
	})
	if !res.Success {
		log.Error("outbound delivery failed", "error", res.Error)
	}
}
