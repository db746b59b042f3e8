package rlog

import "sync"

// OnceShutdownHandler is implemented by the object managed by a ShutdownHelper.
type OnceShutdownHandler interface {
	// HandleOnceShutdown is called exactly once, in its own goroutine. It
	// takes completionErr as an advisory completion value, actually shuts
	// down, then returns the real completion value.
	HandleOnceShutdown(completionErr error) error
}

// AsyncShutdowner is implemented by objects that provide asynchronous
// shutdown, so that one object can be registered as a child of another.
type AsyncShutdowner interface {
	StartShutdown(completionErr error)
	ShutdownDoneChan() <-chan struct{}
	WaitShutdown() error
}

// ShutdownHelper is an embeddable base that gives any object in the relay,
// lan agent, or local proxy clean, idempotent, asynchronous shutdown:
// every socket, listener, or timer it owns is guaranteed release on every
// exit path (error, peer close, or explicit Close).
type ShutdownHelper struct {
	*Logger

	lock sync.Mutex

	handler OnceShutdownHandler

	isScheduled bool
	isStarted   bool
	isDone      bool
	err         error

	doneChan chan struct{}
	wg       sync.WaitGroup
}

// Init initializes the helper in place. Must be called before use.
func (h *ShutdownHelper) Init(logger *Logger, handler OnceShutdownHandler) {
	h.Logger = logger
	h.handler = handler
	h.doneChan = make(chan struct{})
}

// StartShutdown schedules shutdown of the object, if not already scheduled.
// completionErr is an advisory error used as the default final status.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	h.lock.Lock()
	already := h.isScheduled
	if !already {
		h.isScheduled = true
		h.isStarted = true
		h.err = completionErr
	}
	h.lock.Unlock()

	if !already {
		go func() {
			h.err = h.handler.HandleOnceShutdown(h.err)
			h.lock.Lock()
			h.isDone = true
			h.lock.Unlock()
			close(h.doneChan)
		}()
	}
}

// IsStartedShutdown returns true once StartShutdown has been called.
func (h *ShutdownHelper) IsStartedShutdown() bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.isStarted
}

// ShutdownDoneChan returns a channel closed once shutdown is complete.
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} {
	return h.doneChan
}

// WaitShutdown blocks until shutdown completes, including that of every child
// registered with AddShutdownChild, and returns the final status. It does not
// itself initiate shutdown.
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.doneChan
	h.wg.Wait()
	return h.err
}

// Shutdown initiates shutdown (if not already started), waits for it to
// complete, then returns the final status.
func (h *ShutdownHelper) Shutdown(completionErr error) error {
	h.StartShutdown(completionErr)
	return h.WaitShutdown()
}

// Close shuts down with a nil advisory status and waits for completion.
func (h *ShutdownHelper) Close() error {
	return h.Shutdown(nil)
}

// AddShutdownChild registers a child whose shutdown is waited on as part of
// this object's own shutdown, started once this object's own handler returns.
func (h *ShutdownHelper) AddShutdownChild(child AsyncShutdowner) {
	h.wg.Add(1)
	go func() {
		<-h.doneChan
		child.StartShutdown(h.err)
		child.WaitShutdown()
		h.wg.Done()
	}()
}
