// Package session holds the in-memory state of one conversation: the
// append-only message log, the uncommitted input text and the requests
// still waiting for the backend.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/chatbox-go/internal/logger"
	"github.com/comigor/chatbox-go/internal/transport"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateIdle     State = "idle"
	StateAwaiting State = "awaiting"
	StateClosed   State = "closed"
)

// Trigger moves a Session between states.
type Trigger string

const (
	TriggerSubmit Trigger = "Submit"
	TriggerReply  Trigger = "Reply"
	TriggerClose  Trigger = "Close"
)

// Request is one query sent to the backend. Its context is cancelled when
// the request completes or the session closes.
type Request struct {
	ID    uuid.UUID
	Query string

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the context the fetch for this request must run under.
func (r *Request) Context() context.Context {
	return r.ctx
}

// Reply is the outcome of dispatching a Request.
type Reply struct {
	RequestID uuid.UUID
	Text      string
	Err       error
}

// Session is safe for concurrent use.
type Session struct {
	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	messages     []Message
	pendingInput string
	inflight     map[uuid.UUID]*Request
	fsm          *stateless.StateMachine
	now          func() time.Time
}

// New creates an empty session. Cancelling ctx has the same effect on
// in-flight requests as Close.
func New(ctx context.Context) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ctx:      ctx,
		cancel:   cancel,
		messages: make([]Message, 0),
		inflight: make(map[uuid.UUID]*Request),
		now:      time.Now,
	}
	s.fsm = s.newStateMachine()
	return s
}

func (s *Session) newStateMachine() *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	// Guards run inside fire, which is only called with s.mu held.
	hasInFlight := func(_ context.Context, _ ...any) bool { return len(s.inflight) > 0 }
	noneInFlight := func(_ context.Context, _ ...any) bool { return len(s.inflight) == 0 }

	fsm.Configure(StateIdle).
		Permit(TriggerSubmit, StateAwaiting).
		Permit(TriggerClose, StateClosed)

	// Input is never locked while awaiting; further submits re-enter.
	fsm.Configure(StateAwaiting).
		PermitReentry(TriggerSubmit).
		PermitReentry(TriggerReply, hasInFlight).
		Permit(TriggerReply, StateIdle, noneInFlight).
		Permit(TriggerClose, StateClosed)

	fsm.Configure(StateClosed).
		OnEntry(func(_ context.Context, _ ...any) error {
			logger.L.Debug("session closed", "messages", len(s.messages))
			return nil
		}).
		Ignore(TriggerSubmit).
		Ignore(TriggerReply).
		Ignore(TriggerClose)

	return fsm
}

func (s *Session) fire(trigger Trigger) {
	if err := s.fsm.Fire(trigger); err != nil {
		logger.L.Warn("session FSM fire error", "trigger", trigger, "error", err)
	}
}

func (s *Session) state() State {
	return s.fsm.MustState().(State)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

// Messages returns a copy of the conversation in insertion order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// PendingInput returns the text typed but not yet sent.
func (s *Session) PendingInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingInput
}

// InFlight returns the number of requests awaiting a reply.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// SetInput replaces the pending input with text.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingInput = text
}

// Submit commits the pending input: it appends a user message, clears the
// input and registers a Request for the caller to dispatch. Blank input and
// closed sessions are a no-op and return false.
func (s *Session) Submit() (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state() == StateClosed || strings.TrimSpace(s.pendingInput) == "" {
		return nil, false
	}

	text := s.pendingInput
	ctx, cancel := context.WithCancel(s.ctx)
	req := &Request{ID: uuid.New(), Query: text, ctx: ctx, cancel: cancel}

	s.messages = append(s.messages, s.newMessage(req.ID, text, SenderUser, false))
	s.pendingInput = ""
	s.inflight[req.ID] = req
	s.fire(TriggerSubmit)

	logger.L.Debug("message submitted", "request_id", req.ID, "inflight", len(s.inflight))
	return req, true
}

// Resolve appends the bot reply for request id to the current conversation.
// Replies for unknown requests, or arriving after Close, are dropped.
func (s *Session) Resolve(id uuid.UUID, text string) bool {
	return s.complete(id, text, false)
}

// Fail appends a bot-tagged error message for request id.
func (s *Session) Fail(id uuid.UUID, err error) bool {
	return s.complete(id, ErrorText(err), true)
}

// Apply routes a Reply to Resolve or Fail.
func (s *Session) Apply(r Reply) bool {
	if r.Err != nil {
		return s.Fail(r.RequestID, r.Err)
	}
	return s.Resolve(r.RequestID, r.Text)
}

func (s *Session) complete(id uuid.UUID, text string, failed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.inflight[id]
	if !ok {
		logger.L.Debug("dropping reply for unknown request", "request_id", id, "state", s.state())
		return false
	}
	delete(s.inflight, id)
	req.cancel()

	s.messages = append(s.messages, s.newMessage(id, text, SenderBot, failed))
	s.fire(TriggerReply)
	return true
}

// Close cancels every in-flight request and discards later replies. It is
// safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	for id := range s.inflight {
		delete(s.inflight, id)
	}
	s.fire(TriggerClose)
}

func (s *Session) newMessage(requestID uuid.UUID, text string, sender Sender, failed bool) Message {
	return Message{
		ID:        uuid.New(),
		RequestID: requestID,
		Text:      text,
		Sender:    sender,
		Failed:    failed,
		CreatedAt: s.now(),
	}
}

// Dispatch runs the fetch for req. It blocks until the backend answers or
// the request context is cancelled, so callers run it off the UI loop.
func Dispatch(f transport.Fetcher, req *Request) Reply {
	text, err := f.FetchChatResponse(req.ctx, req.Query)
	return Reply{RequestID: req.ID, Text: text, Err: err}
}

// ErrorText renders a transport error as the text of a bot message.
func ErrorText(err error) string {
	var nerr *transport.NetworkError
	var perr *transport.ProtocolError
	switch {
	case errors.Is(err, transport.ErrCircuitOpen):
		return "Error: the chat service is unavailable, try again shortly."
	case errors.As(err, &nerr):
		return "Error: could not reach the chat service."
	case errors.As(err, &perr):
		return "Error: the chat service sent an unexpected response."
	case err == nil:
		return "Error: unknown failure."
	default:
		return "Error: " + err.Error()
	}
}
