package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/buzzicrm/leadflow/internal/flow"
	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/buzzicrm/leadflow/internal/store"
)

func newScriptedEngine() (*Engine, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	return New(st, st, st, flow.NewScriptedStrategy()), st
}

func incoming(phone, text, messageID string) models.IncomingMessage {
	return models.IncomingMessage{
		Phone:     phone,
		Text:      text,
		MessageID: messageID,
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestProcessIncomingCreatesLeadAndReplies(t *testing.T) {
	e, st := newScriptedEngine()

	if err := e.ProcessIncoming(context.Background(), incoming("5511999990000", "oi", "wamid.1")); err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}

	lead, err := st.FindLeadByPhone("5511999990000")
	if err != nil || lead == nil {
		t.Fatalf("lead not created: %v", err)
	}
	if lead.Stage != models.StageBotTriage {
		t.Errorf("expected stage %q, got %q", models.StageBotTriage, lead.Stage)
	}
	if lead.BotStep != models.StepAskTreatment {
		t.Errorf("expected step %q, got %q", models.StepAskTreatment, lead.BotStep)
	}
	if lead.LastMessageAt.IsZero() {
		t.Error("expected last message time to be set")
	}

	msgs, _ := st.ListMessages(lead.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected client + bot messages, got %d", len(msgs))
	}
	if msgs[0].From != models.SenderClient || msgs[1].From != models.SenderBot {
		t.Errorf("unexpected message senders: %s, %s", msgs[0].From, msgs[1].From)
	}

	queued, _ := st.ClaimDueOutboxMessages(time.Now(), 10)
	if len(queued) != 1 || queued[0].Phone != lead.Phone {
		t.Fatalf("expected one queued reply, got %+v", queued)
	}
}

func TestProcessIncomingFullConversation(t *testing.T) {
	e, st := newScriptedEngine()
	ctx := context.Background()
	phone := "5511999990000"

	script := []string{
		"oi",
		"quero implante",
		"Maria Clara",
		"agendar avaliação",
		"não sinto dor",
		"de manhã",
	}
	for i, text := range script {
		if err := e.ProcessIncoming(ctx, incoming(phone, text, "wamid."+strings.Repeat("x", i+1))); err != nil {
			t.Fatalf("message %d failed: %v", i, err)
		}
	}

	lead, _ := st.FindLeadByPhone(phone)
	if lead.BotStep != models.StepDone {
		t.Errorf("expected done, got %q", lead.BotStep)
	}
	if lead.Stage != models.StageInService {
		t.Errorf("expected stage %q, got %q", models.StageInService, lead.Stage)
	}
	if lead.Name != "Maria Clara" || lead.Treatment != "Implantes" {
		t.Errorf("lead fields not captured: name=%q treatment=%q", lead.Name, lead.Treatment)
	}
	if lead.Status != models.StatusHot {
		t.Errorf("scheduling goal should mark hot, got %q", lead.Status)
	}
	for _, key := range []string{models.DataKeyName, models.DataKeyTreatment, models.DataKeyGoal, models.DataKeyPain, models.DataKeyTime} {
		if lead.BotData[key] == "" {
			t.Errorf("bot data missing %q: %v", key, lead.BotData)
		}
	}

	msgs, _ := st.ListMessages(lead.ID)
	if len(msgs) != len(script)*2 {
		t.Errorf("expected %d messages, got %d", len(script)*2, len(msgs))
	}
}

func TestProcessIncomingDedupesByMessageID(t *testing.T) {
	e, st := newScriptedEngine()
	ctx := context.Background()

	msg := incoming("5511999990000", "oi", "wamid.dup")
	if err := e.ProcessIncoming(ctx, msg); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := e.ProcessIncoming(ctx, msg); err != nil {
		t.Fatalf("redelivery must be a no-op, got %v", err)
	}

	lead, _ := st.FindLeadByPhone("5511999990000")
	msgs, _ := st.ListMessages(lead.ID)
	if len(msgs) != 2 {
		t.Errorf("redelivery appended messages: got %d", len(msgs))
	}
	if lead.BotStep != models.StepAskTreatment {
		t.Errorf("redelivery advanced the flow: %q", lead.BotStep)
	}
}

func TestProcessIncomingCapturesFactsOutOfTurn(t *testing.T) {
	e, st := newScriptedEngine()
	ctx := context.Background()
	phone := "5511999990000"

	// The client opens with the treatment instead of a greeting, then
	// introduces themselves while the script is still asking about treatment.
	if err := e.ProcessIncoming(ctx, incoming(phone, "Quero fazer implante", "wamid.1")); err != nil {
		t.Fatalf("first message failed: %v", err)
	}
	if err := e.ProcessIncoming(ctx, incoming(phone, "Meu nome é Ana", "wamid.2")); err != nil {
		t.Fatalf("second message failed: %v", err)
	}

	lead, _ := st.FindLeadByPhone(phone)
	if got := lead.BotData[models.DataKeyTreatment]; got != flow.TreatmentImplants {
		t.Errorf("expected treatment %q, got %q", flow.TreatmentImplants, got)
	}
	if got := lead.BotData[models.DataKeyName]; got != "Ana" {
		t.Errorf("expected name %q, got %q", "Ana", got)
	}
	if lead.Treatment != flow.TreatmentImplants {
		t.Errorf("lead treatment displaced: %q", lead.Treatment)
	}
	if lead.Name != "Ana" {
		t.Errorf("lead name not captured: %q", lead.Name)
	}
}

// recordingStrategy keeps the history it was handed for inspection.
type recordingStrategy struct {
	history []models.Message
}

func (r *recordingStrategy) Reply(_ context.Context, _ *models.Lead, _ string, history []models.Message) (flow.ReplyResult, error) {
	r.history = append([]models.Message(nil), history...)
	return flow.ReplyResult{ReplyText: "ok"}, nil
}

func TestProcessIncomingHistoryExcludesCurrentMessage(t *testing.T) {
	st := store.NewInMemoryStore()
	rec := &recordingStrategy{}
	e := New(st, st, st, rec)
	ctx := context.Background()
	phone := "5511999990000"

	if err := e.ProcessIncoming(ctx, incoming(phone, "oi", "wamid.1")); err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}
	if len(rec.history) != 0 {
		t.Errorf("first message should see empty history, got %d entries", len(rec.history))
	}

	if err := e.ProcessIncoming(ctx, incoming(phone, "quero implante", "wamid.2")); err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}
	// Prior turn only: the first client message and the bot's reply. The
	// message being processed travels as the latest text, not in history.
	if len(rec.history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(rec.history))
	}
	last := rec.history[len(rec.history)-1]
	if last.From == models.SenderClient && last.Text == "quero implante" {
		t.Error("history includes the message being processed")
	}
}

// flakyStore fails the first appends from one sender, mimicking a transient
// database error partway through the pipeline.
type flakyStore struct {
	*store.InMemoryStore
	failFrom models.MessageSender
	failures int
}

func (f *flakyStore) AppendMessage(m *models.Message) error {
	if f.failures > 0 && m.From == f.failFrom {
		f.failures--
		return errors.New("database is locked")
	}
	return f.InMemoryStore.AppendMessage(m)
}

func TestProcessIncomingRedeliveryAfterFailedStore(t *testing.T) {
	st := store.NewInMemoryStore()
	fs := &flakyStore{InMemoryStore: st, failFrom: models.SenderClient, failures: 1}
	e := New(fs, st, st, flow.NewScriptedStrategy())
	ctx := context.Background()

	msg := incoming("5511999990000", "oi", "wamid.retry")
	if err := e.ProcessIncoming(ctx, msg); err == nil {
		t.Fatal("expected the store failure to surface")
	}

	// The provider retries on the error response. The retry must run the
	// pipeline, not be swallowed as a duplicate.
	if err := e.ProcessIncoming(ctx, msg); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	lead, _ := st.FindLeadByPhone("5511999990000")
	if lead == nil {
		t.Fatal("lead not created on redelivery")
	}
	msgs, _ := st.ListMessages(lead.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected client + bot message after redelivery, got %d", len(msgs))
	}
	queued, _ := st.ClaimDueOutboxMessages(time.Now(), 10)
	if len(queued) != 1 {
		t.Fatalf("expected one queued reply, got %d", len(queued))
	}
}

func TestProcessIncomingRedeliveryAfterPartialFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	fs := &flakyStore{InMemoryStore: st, failFrom: models.SenderBot, failures: 1}
	e := New(fs, st, st, flow.NewScriptedStrategy())
	ctx := context.Background()

	// The inbound message lands but the pipeline dies before the reply is
	// stored.
	msg := incoming("5511999990000", "oi", "wamid.retry")
	if err := e.ProcessIncoming(ctx, msg); err == nil {
		t.Fatal("expected the store failure to surface")
	}

	if err := e.ProcessIncoming(ctx, msg); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	lead, _ := st.FindLeadByPhone("5511999990000")
	msgs, _ := st.ListMessages(lead.ID)
	// The redelivery must not duplicate the inbound message.
	if len(msgs) != 2 {
		t.Fatalf("expected client + bot message after redelivery, got %d", len(msgs))
	}
	queued, _ := st.ClaimDueOutboxMessages(time.Now(), 10)
	if len(queued) != 1 {
		t.Fatalf("expected one queued reply, got %d", len(queued))
	}
}

func TestProcessIncomingPausedBotStaysSilent(t *testing.T) {
	e, st := newScriptedEngine()
	ctx := context.Background()

	if err := e.ProcessIncoming(ctx, incoming("5511999990000", "oi", "wamid.1")); err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}
	lead, _ := st.FindLeadByPhone("5511999990000")
	if _, err := e.SetBotPaused(lead.ID, true); err != nil {
		t.Fatalf("SetBotPaused failed: %v", err)
	}
	// Drain the greeting reply.
	if _, err := st.ClaimDueOutboxMessages(time.Now(), 10); err != nil {
		t.Fatal(err)
	}

	if err := e.ProcessIncoming(ctx, incoming("5511999990000", "alguém aí?", "wamid.2")); err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}

	lead, _ = st.FindLeadByPhone("5511999990000")
	msgs, _ := st.ListMessages(lead.ID)
	// Client message is logged even while paused.
	if msgs[len(msgs)-1].From != models.SenderClient || msgs[len(msgs)-1].Text != "alguém aí?" {
		t.Errorf("paused inbound not logged: %+v", msgs[len(msgs)-1])
	}

	queued, _ := st.ClaimDueOutboxMessages(time.Now(), 10)
	if len(queued) != 0 {
		t.Errorf("paused bot must not reply, got %+v", queued)
	}
}

func TestProcessIncomingNeverRegressesManualStage(t *testing.T) {
	e, st := newScriptedEngine()
	ctx := context.Background()

	// A lead the team already closed, with the script mid-flight. The time
	// step normally moves the lead to "Em atendimento".
	lead := &models.Lead{
		Phone:   "5511999990000",
		Stage:   models.StageWon,
		Status:  models.StatusHot,
		BotStep: models.StepAskTime,
		BotData: models.BotData{models.DataKeyName: "Ana"},
	}
	if err := st.CreateLead(lead); err != nil {
		t.Fatal(err)
	}

	if err := e.ProcessIncoming(ctx, incoming("5511999990000", "de manhã", "wamid.2")); err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}

	lead, _ = st.FindLeadByPhone("5511999990000")
	if lead.Stage != models.StageWon {
		t.Errorf("manual stage regressed to %q", lead.Stage)
	}
	// The flow itself still advances.
	if lead.BotStep != models.StepDone {
		t.Errorf("expected flow to advance, got %q", lead.BotStep)
	}
}

func TestProcessIncomingValidatesInput(t *testing.T) {
	e, _ := newScriptedEngine()
	ctx := context.Background()

	if err := e.ProcessIncoming(ctx, incoming("", "oi", "wamid.1")); err != models.ErrEmptyPhone {
		t.Errorf("expected ErrEmptyPhone, got %v", err)
	}
	if err := e.ProcessIncoming(ctx, incoming("5511999990000", "", "wamid.1")); err != models.ErrEmptyText {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}

func TestSendTeamMessagePausesBot(t *testing.T) {
	e, st := newScriptedEngine()
	ctx := context.Background()

	if err := e.ProcessIncoming(ctx, incoming("5511999990000", "oi", "wamid.1")); err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}
	lead, _ := st.FindLeadByPhone("5511999990000")

	updated, err := e.SendTeamMessage(ctx, lead.ID, "Oi! Aqui é a Dra. Paula.")
	if err != nil {
		t.Fatalf("SendTeamMessage failed: %v", err)
	}
	if updated.BotStep != models.StepPaused {
		t.Errorf("expected bot paused, got %q", updated.BotStep)
	}
	if updated.Stage != models.StageInService {
		t.Errorf("expected stage %q, got %q", models.StageInService, updated.Stage)
	}

	msgs, _ := st.ListMessages(lead.ID)
	if msgs[len(msgs)-1].From != models.SenderTeam {
		t.Errorf("team message not logged: %+v", msgs[len(msgs)-1])
	}

	if _, err := e.SendTeamMessage(ctx, "nope", "oi"); err != models.ErrLeadNotFound {
		t.Errorf("expected ErrLeadNotFound, got %v", err)
	}
}

func TestSendTeamMessageKeepsLaterManualStage(t *testing.T) {
	e, st := newScriptedEngine()
	ctx := context.Background()

	if err := e.ProcessIncoming(ctx, incoming("5511999990000", "oi", "wamid.1")); err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}
	lead, _ := st.FindLeadByPhone("5511999990000")
	stage := models.StageScheduled
	if _, err := st.UpdateLead(lead.ID, models.LeadUpdate{Stage: &stage}); err != nil {
		t.Fatal(err)
	}

	updated, err := e.SendTeamMessage(ctx, lead.ID, "Confirmando sua consulta!")
	if err != nil {
		t.Fatalf("SendTeamMessage failed: %v", err)
	}
	if updated.Stage != models.StageScheduled {
		t.Errorf("team send must not move a scheduled lead, got %q", updated.Stage)
	}
}

func TestSetBotPausedResumeResetsCursor(t *testing.T) {
	e, st := newScriptedEngine()
	ctx := context.Background()

	if err := e.ProcessIncoming(ctx, incoming("5511999990000", "oi", "wamid.1")); err != nil {
		t.Fatalf("ProcessIncoming failed: %v", err)
	}
	lead, _ := st.FindLeadByPhone("5511999990000")

	if _, err := e.SetBotPaused(lead.ID, true); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	resumed, err := e.SetBotPaused(lead.ID, false)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.BotStep != models.StepStart {
		t.Errorf("resume should reset the cursor, got %q", resumed.BotStep)
	}
}

func TestProcessIncomingSerializesPerPhone(t *testing.T) {
	e, st := newScriptedEngine()
	ctx := context.Background()
	phone := "5511999990000"

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msg := models.IncomingMessage{
				Phone:     phone,
				Text:      "oi",
				MessageID: "wamid.race." + strings.Repeat("a", n+1),
				Timestamp: time.Now().UnixMilli(),
			}
			if err := e.ProcessIncoming(ctx, msg); err != nil {
				t.Errorf("ProcessIncoming failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	leads, _ := st.ListLeads("", "")
	if len(leads) != 1 {
		t.Fatalf("concurrent first contact created %d leads", len(leads))
	}
	msgs, _ := st.ListMessages(leads[0].ID)
	if len(msgs) != 20 {
		t.Errorf("expected 20 messages (10 in, 10 out), got %d", len(msgs))
	}
}
