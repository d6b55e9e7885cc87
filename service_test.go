package hublink

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var errTransportDown = errors.New("transport down")

type invocation struct {
	method    string
	arguments []interface{}
}

// fakeTransport is a scripted Transport. failStarts > 0 fails that many
// Start calls, failStarts < 0 fails all of them. When entered/block are set,
// Start signals entered and then waits for block to close.
type fakeTransport struct {
	mx           sync.Mutex
	state        TransportState
	connectionID string
	config       Config
	startCalls   int
	failStarts   int
	entered      chan struct{}
	block        chan struct{}
	invocations  []invocation
	invokeResult interface{}
	invokeErr    error
	ctx          context.Context
	cancel       context.CancelFunc
}

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mx.Lock()
	f.startCalls++
	entered, block := f.entered, f.block
	fail := f.failStarts != 0
	if f.failStarts > 0 {
		f.failStarts--
	}
	f.mx.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if fail {
		return errTransportDown
	}
	f.mx.Lock()
	f.state = TransportConnected
	f.connectionID = "TC1"
	f.mx.Unlock()
	return nil
}

func (f *fakeTransport) Stop(ctx context.Context) error {
	f.mx.Lock()
	f.state = TransportDisconnected
	handlers := f.config.Handlers
	f.mx.Unlock()
	if handlers.OnClose != nil {
		handlers.OnClose(nil)
	}
	return nil
}

func (f *fakeTransport) Invoke(ctx context.Context, method string, arguments ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mx.Lock()
	defer f.mx.Unlock()
	f.invocations = append(f.invocations, invocation{method: method, arguments: arguments})
	return f.invokeResult, f.invokeErr
}

func (f *fakeTransport) State() TransportState {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.state
}

func (f *fakeTransport) ConnectionID() string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.connectionID
}

func (f *fakeTransport) Context() context.Context {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.ctx == nil {
		return context.TODO()
	}
	return f.ctx
}

// terminate closes the transport for good: the transport context is
// canceled and OnClose fires with err.
func (f *fakeTransport) terminate(err error) {
	f.mx.Lock()
	f.state = TransportDisconnected
	handlers := f.config.Handlers
	cancel := f.cancel
	f.mx.Unlock()
	if cancel != nil {
		cancel()
	}
	if handlers.OnClose != nil {
		handlers.OnClose(err)
	}
}

func (f *fakeTransport) starts() int {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.startCalls
}

func (f *fakeTransport) invoked() []invocation {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]invocation{}, f.invocations...)
}

func (f *fakeTransport) handlers() Handlers {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.config.Handlers
}

func (f *fakeTransport) headers() func() http.Header {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.config.Headers
}

func testBedService(transport *fakeTransport, options ...Option) Service {
	opts := append([]Option{
		testLoggerOption(),
		WithTokenProvider(func(ctx context.Context) (string, error) { return "test-token", nil }),
		WithBackoffFactory(func() backoff.BackOff {
			return newPolicyBackOff(Backoff{Base: time.Millisecond, Cap: 4 * time.Millisecond}, DefaultMaxReconnectAttempts)
		}),
	}, options...)
	svc, err := New(context.TODO(), "https://hub.test/chat", func(ctx context.Context, config Config) (Transport, error) {
		transport.mx.Lock()
		transport.config = config
		transport.mx.Unlock()
		return transport, nil
	}, opts...)
	Expect(err).NotTo(HaveOccurred())
	return svc
}

type statusRecorder struct {
	mx       sync.Mutex
	statuses []ConnectionStatus
}

func (r *statusRecorder) record(status ConnectionStatus) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) states() []State {
	r.mx.Lock()
	defer r.mx.Unlock()
	states := make([]State, 0, len(r.statuses))
	for _, status := range r.statuses {
		states = append(states, status.State)
	}
	return states
}

func (r *statusRecorder) last() ConnectionStatus {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.statuses[len(r.statuses)-1]
}

var _ = Describe("Service", func() {

	Context("Start", func() {
		It("should connect and report connected", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			Expect(svc.IsConnected()).To(BeTrue())
			Expect(svc.ConnectionState()).To(Equal(StateConnected))
			Expect(transport.starts()).To(Equal(1))
		})
		It("should collapse concurrent Start calls onto one transport start", func() {
			transport := &fakeTransport{entered: make(chan struct{}, 1), block: make(chan struct{})}
			svc := testBedService(transport)
			results := make(chan error, 2)
			go func() { results <- svc.Start(context.TODO()) }()
			<-transport.entered
			go func() { results <- svc.Start(context.TODO()) }()
			close(transport.block)
			Expect(<-results).NotTo(HaveOccurred())
			Expect(<-results).NotTo(HaveOccurred())
			Expect(transport.starts()).To(Equal(1))
		})
		It("should return immediately when already connected", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			Expect(transport.starts()).To(Equal(1))
		})
		It("should retry until the transport connects", func() {
			transport := &fakeTransport{failStarts: 3}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			Expect(transport.starts()).To(Equal(4))
			Expect(svc.ConnectionState()).To(Equal(StateConnected))
		})
		It("should give up with a ConnectError preserving the final cause", func() {
			transport := &fakeTransport{failStarts: -1}
			svc := testBedService(transport)
			err := svc.Start(context.TODO())
			Expect(err).To(HaveOccurred())
			var connErr *ConnectError
			Expect(errors.As(err, &connErr)).To(BeTrue())
			Expect(connErr.Attempts).To(Equal(6))
			Expect(errors.Is(err, errTransportDown)).To(BeTrue())
			Expect(transport.starts()).To(Equal(6))
		})
		It("should not be blocked by a previously failed Start", func() {
			transport := &fakeTransport{failStarts: 6}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).To(HaveOccurred())
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			Expect(svc.IsConnected()).To(BeTrue())
		})
		It("should fail with ErrAuthenticationMissing without a token provider", func() {
			transport := &fakeTransport{}
			svc, err := New(context.TODO(), "https://hub.test/chat",
				func(ctx context.Context, config Config) (Transport, error) { return transport, nil },
				testLoggerOption())
			Expect(err).NotTo(HaveOccurred())
			Expect(errors.Is(svc.Start(context.TODO()), ErrAuthenticationMissing)).To(BeTrue())
			Expect(transport.starts()).To(Equal(0))
		})
		It("should fail with ErrAuthenticationMissing on an empty token", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport,
				WithTokenProvider(func(ctx context.Context) (string, error) { return "", nil }))
			Expect(errors.Is(svc.Start(context.TODO()), ErrAuthenticationMissing)).To(BeTrue())
			Expect(transport.starts()).To(Equal(0))
		})
		It("should publish connecting for every attempt and error for every failure", func() {
			transport := &fakeTransport{failStarts: 2}
			svc := testBedService(transport)
			recorder := &statusRecorder{}
			svc.OnConnectionStatus(recorder.record)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			Expect(recorder.states()).To(Equal([]State{
				StateConnecting, StateError,
				StateConnecting, StateError,
				StateConnecting, StateConnected,
			}))
		})
		It("should build a fresh transport after a terminal close", func() {
			var transports []*fakeTransport
			svc, err := New(context.TODO(), "https://hub.test/chat",
				func(ctx context.Context, config Config) (Transport, error) {
					transportCtx, cancel := context.WithCancel(context.Background())
					transport := &fakeTransport{config: config, ctx: transportCtx, cancel: cancel}
					transports = append(transports, transport)
					return transport, nil
				},
				testLoggerOption(),
				WithTokenProvider(func(ctx context.Context) (string, error) { return "test-token", nil }))
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			transports[0].terminate(errors.New("hub shut down"))
			Expect(svc.IsConnected()).To(BeFalse())
			Expect(svc.ConnectionState()).To(Equal(StateDisconnected))
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			Expect(transports).To(HaveLen(2))
			Expect(svc.IsConnected()).To(BeTrue())
			_, err = svc.SendMessage(context.TODO(), "bob", "back again")
			Expect(err).NotTo(HaveOccurred())
			Expect(transports[1].invoked()).To(HaveLen(1))
			Expect(transports[0].invoked()).To(BeEmpty())
		})
		It("should abort the retry wait when the service context ends", func() {
			transport := &fakeTransport{failStarts: -1}
			svcCtx, cancelSvc := context.WithCancel(context.Background())
			defer cancelSvc()
			svc, err := New(svcCtx, "https://hub.test/chat",
				func(ctx context.Context, config Config) (Transport, error) {
					transport.mx.Lock()
					transport.config = config
					transport.mx.Unlock()
					return transport, nil
				},
				testLoggerOption(),
				WithTokenProvider(func(ctx context.Context) (string, error) { return "test-token", nil }),
				WithBackoff(Backoff{Base: time.Hour, Cap: time.Hour}))
			Expect(err).NotTo(HaveOccurred())
			results := make(chan error, 1)
			go func() { results <- svc.Start(context.TODO()) }()
			Eventually(transport.starts).Should(Equal(1))
			cancelSvc()
			var startErr error
			Eventually(results).Should(Receive(&startErr))
			Expect(startErr).To(HaveOccurred())
			Expect(errors.Is(startErr, context.Canceled)).To(BeTrue())
		})
		It("should attach the bearer token and the header overrides", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport, WithHTTPHeaders(func() http.Header {
				headers := http.Header{}
				headers.Set("X-Correlation", "42")
				return headers
			}))
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			headers := transport.headers()()
			Expect(headers.Get("Authorization")).To(Equal("Bearer test-token"))
			Expect(headers.Get("X-Correlation")).To(Equal("42"))
		})
	})

	Context("Stop", func() {
		It("should be a no-op when not connected", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			recorder := &statusRecorder{}
			svc.OnConnectionStatus(recorder.record)
			svc.Stop(context.TODO())
			Expect(recorder.states()).To(BeEmpty())
		})
		It("should close the transport and publish disconnected once", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			recorder := &statusRecorder{}
			svc.OnConnectionStatus(recorder.record)
			svc.Stop(context.TODO())
			Expect(svc.IsConnected()).To(BeFalse())
			Expect(recorder.states()).To(Equal([]State{StateDisconnected}))
		})
	})

	Context("Outbound operations", func() {
		It("should reject SendMessage when not connected", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			_, err := svc.SendMessage(context.TODO(), "bob", "hi")
			Expect(errors.Is(err, ErrNotConnected)).To(BeTrue())
			Expect(transport.invoked()).To(BeEmpty())
		})
		It("should reject DeleteMessage when not connected", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			_, err := svc.DeleteMessage(context.TODO(), "m1")
			Expect(errors.Is(err, ErrNotConnected)).To(BeTrue())
			Expect(transport.invoked()).To(BeEmpty())
		})
		It("should silently skip typing indicators when not connected", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			svc.SendTypingIndicator(context.TODO(), "bob")
			Expect(transport.invoked()).To(BeEmpty())
		})
		It("should send a message and return the receipt", func() {
			transport := &fakeTransport{invokeResult: SendReceipt{Queued: true}}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			receipt, err := svc.SendMessage(context.TODO(), "bob", "hi")
			Expect(err).NotTo(HaveOccurred())
			Expect(receipt.Queued).To(BeTrue())
			invocations := transport.invoked()
			Expect(invocations).To(HaveLen(1))
			Expect(invocations[0].method).To(Equal(MethodSendMessage))
			Expect(invocations[0].arguments).To(Equal([]interface{}{"bob", "hi"}))
		})
		It("should wrap a failed SendMessage in an InvokeError", func() {
			transport := &fakeTransport{invokeErr: errors.New("hub refused")}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			_, err := svc.SendMessage(context.TODO(), "bob", "hi")
			var invokeErr *InvokeError
			Expect(errors.As(err, &invokeErr)).To(BeTrue())
			Expect(invokeErr.Method).To(Equal(MethodSendMessage))
		})
		It("should map the DeleteMessage result", func() {
			transport := &fakeTransport{invokeResult: false}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			deleted, err := svc.DeleteMessage(context.TODO(), "m1")
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeFalse())
		})
		It("should count a resultless DeleteMessage completion as deleted", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			deleted, err := svc.DeleteMessage(context.TODO(), "m1")
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())
		})
		It("should swallow typing indicator failures", func() {
			transport := &fakeTransport{invokeErr: errors.New("hub refused")}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			svc.SendTypingIndicator(context.TODO(), "bob")
			Expect(transport.invoked()).To(HaveLen(1))
		})
	})

	Context("Subscriptions", func() {
		It("should deliver inbound messages until unsubscribed", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			received := make([]Message, 0)
			unsubscribe := svc.OnMessage(func(message Message) { received = append(received, message) })
			handlers := transport.handlers()
			handlers.OnReceiveMessage(Message{ID: "m1", Content: "hi"})
			unsubscribe()
			handlers.OnReceiveMessage(Message{ID: "m2", Content: "again"})
			Expect(received).To(HaveLen(1))
			Expect(received[0].ID).To(Equal("m1"))
		})
		It("should mirror transport reconnect hooks as status events", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			Expect(svc.Start(context.TODO())).NotTo(HaveOccurred())
			recorder := &statusRecorder{}
			svc.OnConnectionStatus(recorder.record)
			handlers := transport.handlers()
			handlers.OnReconnecting(errors.New("connection lost"))
			Expect(svc.ConnectionState()).To(Equal(StateReconnecting))
			handlers.OnReconnected("TC2")
			Expect(svc.ConnectionState()).To(Equal(StateConnected))
			Expect(recorder.last().ConnectionID).To(Equal("TC2"))
			closeErr := errors.New("gone for good")
			handlers.OnClose(closeErr)
			Expect(svc.ConnectionState()).To(Equal(StateDisconnected))
			Expect(recorder.states()).To(Equal([]State{StateReconnecting, StateConnected, StateDisconnected}))
			Expect(recorder.last().Err).To(Equal(closeErr))
		})
	})

	Context("WaitForState", func() {
		It("should resolve once the service reaches the awaited state", func() {
			transport := &fakeTransport{entered: make(chan struct{}, 1), block: make(chan struct{})}
			svc := testBedService(transport)
			go func() { _ = svc.Start(context.TODO()) }()
			<-transport.entered
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			ch := WaitForState(ctx, svc, StateConnected)
			close(transport.block)
			Expect(<-ch).NotTo(HaveOccurred())
			Expect(svc.IsConnected()).To(BeTrue())
		})
		It("should return the context error when the state is not reached", func() {
			transport := &fakeTransport{}
			svc := testBedService(transport)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			Expect(<-WaitForState(ctx, svc, StateConnected)).To(HaveOccurred())
		})
	})
})
