// Package hubtest provides an in-memory hub for testing and demonstrating
// hublink Services without a network. A Hub hands out one hublink.Factory
// per registered user and routes messages, typing signals and conversation
// updates between the users' transports. It can also fail connection
// attempts and drop or interrupt a user's connection to exercise the
// reconnect behavior of a Service.
package hubtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quenra/hublink"
)

// Hub is an in-memory stand-in for the remote hub.
type Hub struct {
	mx         sync.Mutex
	endpoints  map[string]*Transport
	messages   map[string]hublink.Message
	failStarts map[string]int
	startCalls map[string]int
}

func NewHub() *Hub {
	return &Hub{
		endpoints:  map[string]*Transport{},
		messages:   map[string]hublink.Message{},
		failStarts: map[string]int{},
		startCalls: map[string]int{},
	}
}

// Register adds user to the hub and returns the factory for the user's
// transport. The factory rejects configurations without an Authorization
// header, like the real hub would.
func (h *Hub) Register(user string) hublink.Factory {
	return func(ctx context.Context, config hublink.Config) (hublink.Transport, error) {
		if config.Headers == nil || config.Headers().Get("Authorization") == "" {
			return nil, errors.New("missing authorization header")
		}
		transportCtx, cancel := context.WithCancel(context.Background())
		t := &Transport{
			hub:    h,
			user:   user,
			config: config,
			ctx:    transportCtx,
			cancel: cancel,
		}
		h.mx.Lock()
		h.endpoints[user] = t
		h.mx.Unlock()
		return t, nil
	}
}

// FailStarts makes the next n Start calls of the user's transport fail.
func (h *Hub) FailStarts(user string, n int) {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.failStarts[user] = n
}

// StartCalls returns how many times the user's transport was started.
func (h *Hub) StartCalls(user string) int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.startCalls[user]
}

// Drop closes the user's connection for good: the transport context is
// canceled and OnClose fires with reason.
func (h *Hub) Drop(user string, reason error) {
	t := h.endpoint(user)
	if t == nil {
		return
	}
	t.mx.Lock()
	t.state = hublink.TransportDisconnected
	cancel := t.cancel
	t.mx.Unlock()
	cancel()
	if t.config.Handlers.OnClose != nil {
		t.config.Handlers.OnClose(reason)
	}
}

// Interrupt simulates a transient connection loss: the transport consults
// its retry policy, fires OnReconnecting and, when the policy allows a
// retry, immediately reconnects under a new connection id. The policy's
// delay is elided to keep tests fast. When the policy refuses, the
// connection is dropped instead.
func (h *Hub) Interrupt(user string, reason error) {
	t := h.endpoint(user)
	if t == nil {
		return
	}
	t.mx.Lock()
	t.state = hublink.TransportReconnecting
	t.mx.Unlock()
	if t.config.Handlers.OnReconnecting != nil {
		t.config.Handlers.OnReconnecting(reason)
	}
	if t.config.RetryPolicy != nil {
		if _, ok := t.config.RetryPolicy.NextRetryDelay(hublink.RetryContext{Reason: reason}); !ok {
			h.Drop(user, reason)
			return
		}
	}
	t.mx.Lock()
	t.state = hublink.TransportConnected
	t.connectionID = uuid.NewString()
	connectionID := t.connectionID
	t.mx.Unlock()
	if t.config.Handlers.OnReconnected != nil {
		t.config.Handlers.OnReconnected(connectionID)
	}
}

func (h *Hub) endpoint(user string) *Transport {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.endpoints[user]
}

func (h *Hub) sendMessage(sender, recipient, content string) (hublink.SendReceipt, error) {
	message := hublink.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID(sender, recipient),
		Sender:         sender,
		Recipient:      recipient,
		Content:        content,
		SentAt:         time.Now(),
	}
	h.mx.Lock()
	h.messages[message.ID] = message
	h.mx.Unlock()
	if to := h.endpoint(recipient); to != nil && to.config.Handlers.OnReceiveMessage != nil {
		to.config.Handlers.OnReceiveMessage(message)
	}
	h.notifyConversation(message.ConversationID, message.ID, sender, recipient)
	return hublink.SendReceipt{Queued: true}, nil
}

func (h *Hub) deleteMessage(messageID string) bool {
	h.mx.Lock()
	message, ok := h.messages[messageID]
	delete(h.messages, messageID)
	h.mx.Unlock()
	if ok {
		h.notifyConversation(message.ConversationID, "", message.Sender, message.Recipient)
	}
	return ok
}

func (h *Hub) sendTyping(sender, recipient string) {
	if to := h.endpoint(recipient); to != nil && to.config.Handlers.OnTypingSignal != nil {
		to.config.Handlers.OnTypingSignal(hublink.TypingSignal{
			Sender:    sender,
			Recipient: recipient,
			At:        time.Now(),
		})
	}
}

func (h *Hub) notifyConversation(conversationID, lastMessageID string, users ...string) {
	h.mx.Lock()
	unread := 0
	for _, message := range h.messages {
		if message.ConversationID == conversationID {
			unread++
		}
	}
	h.mx.Unlock()
	update := hublink.ConversationUpdate{
		ConversationID: conversationID,
		LastMessageID:  lastMessageID,
		UnreadCount:    unread,
		UpdatedAt:      time.Now(),
	}
	for _, user := range users {
		if to := h.endpoint(user); to != nil && to.config.Handlers.OnConversationUpdated != nil {
			to.config.Handlers.OnConversationUpdated(update)
		}
	}
}

func conversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Transport is the in-memory hublink.Transport a Hub factory builds.
type Transport struct {
	hub    *Hub
	user   string
	config hublink.Config

	mx           sync.Mutex
	state        hublink.TransportState
	connectionID string
	ctx          context.Context
	cancel       context.CancelFunc
}

func (t *Transport) Start(ctx context.Context) error {
	t.hub.mx.Lock()
	t.hub.startCalls[t.user]++
	if t.hub.failStarts[t.user] > 0 {
		t.hub.failStarts[t.user]--
		t.hub.mx.Unlock()
		return fmt.Errorf("hub unavailable for %v", t.user)
	}
	t.hub.mx.Unlock()
	t.mx.Lock()
	t.state = hublink.TransportConnected
	t.connectionID = uuid.NewString()
	t.mx.Unlock()
	return nil
}

func (t *Transport) Stop(ctx context.Context) error {
	t.mx.Lock()
	t.state = hublink.TransportDisconnected
	t.mx.Unlock()
	if t.config.Handlers.OnClose != nil {
		t.config.Handlers.OnClose(nil)
	}
	return nil
}

func (t *Transport) Invoke(ctx context.Context, method string, arguments ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.State() != hublink.TransportConnected {
		return nil, errors.New("not connected")
	}
	args, err := stringArgs(method, arguments)
	if err != nil {
		return nil, err
	}
	switch method {
	case hublink.MethodSendMessage:
		if len(args) != 2 {
			return nil, fmt.Errorf("%v expects recipient and content", method)
		}
		return t.hub.sendMessage(t.user, args[0], args[1])
	case hublink.MethodDeleteMessage:
		if len(args) != 1 {
			return nil, fmt.Errorf("%v expects a message id", method)
		}
		return t.hub.deleteMessage(args[0]), nil
	case hublink.MethodSendTypingIndicator:
		if len(args) != 1 {
			return nil, fmt.Errorf("%v expects a recipient", method)
		}
		t.hub.sendTyping(t.user, args[0])
		return nil, nil
	}
	return nil, fmt.Errorf("unknown hub method %v", method)
}

func stringArgs(method string, arguments []interface{}) ([]string, error) {
	args := make([]string, 0, len(arguments))
	for _, argument := range arguments {
		arg, ok := argument.(string)
		if !ok {
			return nil, fmt.Errorf("%v: argument %v is not a string", method, argument)
		}
		args = append(args, arg)
	}
	return args, nil
}

func (t *Transport) State() hublink.TransportState {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.state
}

func (t *Transport) ConnectionID() string {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.connectionID
}

func (t *Transport) Context() context.Context {
	return t.ctx
}
