package framework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DialogRequest is a question forwarded from a running process to the
// operator, typically an interactive prompt such as "Proceed? [y/N]".
type DialogRequest struct {
	ID          string    `json:"id"`
	Command     string    `json:"command"`
	Prompt      string    `json:"prompt"`
	RequestedAt time.Time `json:"requested_at"`
	State       string    `json:"state"`
}

// DialogReply is the operator's answer to a pending request.
type DialogReply struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// DialogEventType describes the lifecycle stage of a dialog request.
type DialogEventType string

const (
	DialogEventRequested DialogEventType = "requested"
	DialogEventResolved  DialogEventType = "resolved"
	DialogEventExpired   DialogEventType = "expired"
)

// DialogEvent is emitted whenever a request is created, answered or expires.
type DialogEvent struct {
	Type    DialogEventType
	Request *DialogRequest
	Reply   *DialogReply
	Error   string
}

// ErrDialogCancelled is returned when the operator declines to answer.
var ErrDialogCancelled = errors.New("dialog cancelled by operator")

// DialogBroker coordinates blocking questions between processes and a human
// operator. The console subscribes to requested events and answers through
// Reply; the command runner blocks in RequestReply.
type DialogBroker struct {
	timeout  time.Duration
	mu       sync.Mutex
	requests map[string]*DialogRequest
	waiters  map[string]chan DialogReply
	subs     map[int]chan DialogEvent
	subSeq   int
	reqSeq   int
	clock    func() time.Time
}

// NewDialogBroker builds a broker with the supplied answer timeout.
func NewDialogBroker(timeout time.Duration) *DialogBroker {
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	return &DialogBroker{
		timeout:  timeout,
		requests: make(map[string]*DialogRequest),
		waiters:  make(map[string]chan DialogReply),
		subs:     make(map[int]chan DialogEvent),
		clock:    time.Now,
	}
}

// Subscribe returns a channel that receives dialog lifecycle events.
// Call the returned cancel function to unsubscribe.
func (h *DialogBroker) Subscribe(buffer int) (<-chan DialogEvent, func()) {
	if h == nil {
		ch := make(chan DialogEvent)
		close(ch)
		return ch, func() {}
	}
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan DialogEvent, buffer)
	h.mu.Lock()
	id := h.subSeq
	h.subSeq++
	h.subs[id] = ch
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		sub, ok := h.subs[id]
		if ok {
			delete(h.subs, id)
		}
		h.mu.Unlock()
		if ok {
			close(sub)
		}
	}
	return ch, cancel
}

func (h *DialogBroker) broadcast(event DialogEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *DialogBroker) forget(id string) {
	h.mu.Lock()
	delete(h.requests, id)
	delete(h.waiters, id)
	h.mu.Unlock()
}

// RequestReply registers a request and blocks until the operator answers,
// the context ends or the broker timeout elapses.
func (h *DialogBroker) RequestReply(ctx context.Context, req DialogRequest) (string, error) {
	if h == nil {
		return "", errors.New("dialog broker missing")
	}
	h.mu.Lock()
	h.reqSeq++
	req.ID = fmt.Sprintf("dialog-%d-%d", h.clock().UnixNano(), h.reqSeq)
	req.RequestedAt = h.clock()
	req.State = "pending"
	waitCh := make(chan DialogReply, 1)
	h.requests[req.ID] = &req
	h.waiters[req.ID] = waitCh
	h.mu.Unlock()
	h.broadcast(DialogEvent{Type: DialogEventRequested, Request: &req})

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case reply := <-waitCh:
		h.forget(req.ID)
		h.broadcast(DialogEvent{Type: DialogEventResolved, Request: &req, Reply: &reply})
		if reply.Cancelled {
			return "", ErrDialogCancelled
		}
		return reply.Text, nil
	case <-ctx.Done():
		h.forget(req.ID)
		h.broadcast(DialogEvent{Type: DialogEventExpired, Request: &req, Error: ctx.Err().Error()})
		return "", ctx.Err()
	case <-timer.C:
		h.forget(req.ID)
		h.broadcast(DialogEvent{Type: DialogEventExpired, Request: &req, Error: "timed out"})
		return "", fmt.Errorf("dialog %s timed out", req.ID)
	}
}

// Reply answers a pending request.
func (h *DialogBroker) Reply(requestID, text string) error {
	return h.resolve(DialogReply{RequestID: requestID, Text: text})
}

// Cancel declines a pending request.
func (h *DialogBroker) Cancel(requestID string) error {
	return h.resolve(DialogReply{RequestID: requestID, Cancelled: true})
}

func (h *DialogBroker) resolve(reply DialogReply) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	req, ok := h.requests[reply.RequestID]
	if !ok {
		return fmt.Errorf("request %s not found", reply.RequestID)
	}
	if req.State != "pending" {
		return fmt.Errorf("request %s already %s", reply.RequestID, req.State)
	}
	req.State = "answered"
	if reply.Cancelled {
		req.State = "cancelled"
	}
	if waiter, ok := h.waiters[reply.RequestID]; ok {
		waiter <- reply
	}
	return nil
}

// Pending returns the outstanding requests.
func (h *DialogBroker) Pending() []*DialogRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	var pending []*DialogRequest
	for _, req := range h.requests {
		if req.State == "pending" {
			cp := *req
			pending = append(pending, &cp)
		}
	}
	return pending
}
