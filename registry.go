package mascara

import "sync"

// StreamRegistry is the per-connection pointer -> endpoint table
// (spec.md §2, §4.3). Both peers keep one; server dispatchers install
// entries when a handler result mints a pointer, client dispatchers
// install entries when a response carries one.
type StreamRegistry struct {
	mu        sync.Mutex
	producers map[string]*Producer
	consumers map[string]*Consumer
}

func newStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
}

func (r *StreamRegistry) putProducer(p Pointer, v *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.String()] = v
}

func (r *StreamRegistry) putConsumer(p Pointer, v *Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[p.String()] = v
}

func (r *StreamRegistry) consumer(key string) (*Consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[key]
	return c, ok
}

func (r *StreamRegistry) producer(key string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[key]
	return p, ok
}

func (r *StreamRegistry) removeConsumer(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.consumers, key)
}

func (r *StreamRegistry) removeProducer(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, key)
}

// invalidateAll ends every registered endpoint with a connection-closed
// error, per spec.md §5's cancellation semantics: transport close
// invalidates all registered endpoints.
func (r *StreamRegistry) invalidateAll() {
	r.mu.Lock()
	producers := r.producers
	consumers := r.consumers
	r.producers = make(map[string]*Producer)
	r.consumers = make(map[string]*Consumer)
	r.mu.Unlock()

	for _, p := range producers {
		p.Fail(ErrConnectionClosed)
	}
	for _, c := range consumers {
		c.closeStream(ErrConnectionClosed)
	}
}

// pendingCall is a call registry entry: the channel Invoke blocks on.
type pendingCall struct {
	resultCh chan callResult
}

type callResult struct {
	values []any
	err    error
}

// CallRegistry is the client-side request-id -> pending-completion
// table (spec.md §4.4). Invariant (spec.md §8): the registry contains
// id iff no terminal response for id has been processed yet.
type CallRegistry struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

func newCallRegistry() *CallRegistry {
	return &CallRegistry{pending: make(map[string]*pendingCall)}
}

func (r *CallRegistry) register(id string) *pendingCall {
	pc := &pendingCall{resultCh: make(chan callResult, 1)}
	r.mu.Lock()
	r.pending[id] = pc
	r.mu.Unlock()
	return pc
}

// complete resolves a pending call and retires its id. Returns false if
// no such id was pending (a stray or duplicate response, spec.md §7
// category 6 / §4.4 "duplicate responses... are discarded").
func (r *CallRegistry) complete(id string, res callResult) bool {
	r.mu.Lock()
	pc, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	pc.resultCh <- res
	return true
}

func (r *CallRegistry) forget(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// invalidateAll fails every in-flight call with err, retiring all ids.
// Used on transport close (spec.md §5).
func (r *CallRegistry) invalidateAll(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]*pendingCall)
	r.mu.Unlock()
	for _, pc := range pending {
		pc.resultCh <- callResult{err: err}
	}
}
