package tokenmanager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AmmannChristian/go-authsession/events"
	"github.com/AmmannChristian/go-authsession/metrics"
	"github.com/AmmannChristian/go-authsession/session"
)

// maxDrainBytes bounds how much of a discarded response body is read so the
// connection can be reused.
const maxDrainBytes = 4 << 10

// outcome is the result of one attempt at sending a request.
type outcome struct {
	resp         *http.Response
	err          error
	unauthorized bool
}

// discard releases a response that will never reach its caller.
func (o outcome) discard() {
	if o.resp != nil && o.resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(o.resp.Body, maxDrainBytes))
		_ = o.resp.Body.Close()
	}
}

// sendFunc sends a request with the current credentials and reports the
// Authorization value it was sent with.
type sendFunc func() (outcome, string)

// pendingRequest is a request buffered during a refresh episode. Its caller is
// blocked in wait until settle is called exactly once.
type pendingRequest struct {
	id     string
	ctx    context.Context
	send   sendFunc
	result chan outcome
	once   sync.Once
}

func newPendingRequest(ctx context.Context, send sendFunc) *pendingRequest {
	return &pendingRequest{
		id:     uuid.NewString(),
		ctx:    ctx,
		send:   send,
		result: make(chan outcome, 1),
	}
}

// settle hands out to the caller. Later calls are no-ops and release their outcome.
func (p *pendingRequest) settle(out outcome) bool {
	settled := false
	p.once.Do(func() {
		p.result <- out
		settled = true
	})
	if !settled {
		out.discard()
	}
	return settled
}

// wait blocks until the request is settled or the caller's context ends.
func (p *pendingRequest) wait() outcome {
	select {
	case out := <-p.result:
		return out
	case <-p.ctx.Done():
		go func() {
			out := <-p.result
			out.discard()
		}()
		return outcome{err: p.ctx.Err()}
	}
}

// episode is one refresh: it starts with the first intercepted 401 and ends when
// every buffered request has been replayed or rejected.
type episode struct {
	id      string
	started time.Time
	buffer  []*pendingRequest
	// next is the index of the first buffered request not yet taken for replay.
	next int
}

// intercepting reports whether a 401 would currently be buffered.
func (m *Manager) intercepting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && m.events.Has(events.TokenExpiration)
}

// handleUnauthorized decides what happens to a request whose first attempt was
// rejected. Without an active session or a refresh handler, first is returned as is.
func (m *Manager) handleUnauthorized(ctx context.Context, sentAuth string, first outcome, send sendFunc) outcome {
	m.mu.Lock()
	if !m.active || !m.events.Has(events.TokenExpiration) {
		m.mu.Unlock()
		return first
	}

	if m.episode == nil {
		// The credential was replaced after this request went out; the new one
		// has not been tried yet, so no refresh is needed.
		if current := m.headers.Authorization(); current != "" && current != sentAuth {
			m.mu.Unlock()
			first.discard()
			m.logf("tokenmanager: credential changed since request was sent, retrying")

			out, used := send()
			if out.unauthorized && used != sentAuth {
				return m.handleUnauthorized(ctx, used, out, send)
			}
			return out
		}
	}

	p := newPendingRequest(ctx, send)
	ep := m.episode
	start := ep == nil
	if start {
		ep = &episode{id: uuid.NewString(), started: time.Now()}
		m.episode = ep
	}
	ep.buffer = append(ep.buffer, p)
	pending := len(ep.buffer)
	m.mu.Unlock()

	first.discard()
	m.metrics.SetPending(pending)

	if start {
		m.logf("tokenmanager: refresh episode %s started by request %s", ep.id, p.id)
		go m.runEpisode(context.WithoutCancel(ctx), ep)
	} else {
		m.logf("tokenmanager: request %s buffered in refresh episode %s (%d pending)", p.id, ep.id, pending)
	}

	return p.wait()
}

// runEpisode invokes the tokenExpiration handler once and concludes ep.
func (m *Manager) runEpisode(ctx context.Context, ep *episode) {
	tok, err := m.events.Refresh(WithoutRefresh(ctx))
	elapsed := time.Since(ep.started)

	if err == nil && tok != nil {
		var current bool
		current, err = m.applyRefreshed(ctx, ep, *tok)
		if err == nil && !current {
			m.logf("tokenmanager: refresh episode %s abandoned", ep.id)
			m.metrics.ObserveRefresh(metrics.ResultAbandoned, elapsed)
			return
		}
	}

	if err != nil {
		if m.failEpisode(ctx, ep, err) {
			m.logf("tokenmanager: refresh episode %s failed after %s: %v", ep.id, elapsed, err)
			m.metrics.ObserveRefresh(metrics.ResultFailure, elapsed)
		} else {
			m.metrics.ObserveRefresh(metrics.ResultAbandoned, elapsed)
		}
		return
	}

	if m.replayEpisode(ep) {
		m.logf("tokenmanager: refresh episode %s completed in %s", ep.id, time.Since(ep.started))
		m.metrics.ObserveRefresh(metrics.ResultSuccess, elapsed)
		return
	}
	m.logf("tokenmanager: refresh episode %s abandoned during replay", ep.id)
	m.metrics.ObserveRefresh(metrics.ResultAbandoned, elapsed)
}

// applyRefreshed stores tok unless ep is no longer the current episode.
func (m *Manager) applyRefreshed(ctx context.Context, ep *episode, tok session.Token) (bool, error) {
	expiry, err := m.resolveExpiry(ctx, tok.AccessToken, tok.Expiry)
	if err != nil {
		return true, err
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.isCurrent(ep) {
		return false, nil
	}

	if err := m.setAccessTokenLocked(ctx, tok.AccessToken, expiry); err != nil {
		m.logf("tokenmanager: refresh episode %s token not persisted: %v", ep.id, err)
	}
	return true, nil
}

// replayEpisode resends every buffered request in arrival order. Requests
// buffered while the replay runs are replayed too. The buffer is released only
// once it has been fully replayed. It returns false if ep was detached meanwhile.
func (m *Manager) replayEpisode(ep *episode) bool {
	for i := 0; ; i++ {
		m.mu.Lock()
		if m.episode != ep {
			m.mu.Unlock()
			return false
		}
		if i == len(ep.buffer) {
			m.episode = nil
			ep.buffer = nil
			m.mu.Unlock()
			m.metrics.SetPending(0)
			return true
		}
		p := ep.buffer[i]
		ep.next = i + 1
		m.mu.Unlock()

		m.replayOne(p)
	}
}

// replaySuperseded resends the buffer of an episode ended by Login.
func (m *Manager) replaySuperseded(pending []*pendingRequest) {
	for _, p := range pending {
		m.replayOne(p)
	}
}

func (m *Manager) replayOne(p *pendingRequest) {
	if err := p.ctx.Err(); err != nil {
		p.settle(outcome{err: err})
		m.metrics.IncReplayed(metrics.OutcomeSkipped)
		return
	}

	out, _ := p.send()
	if out.err != nil {
		m.metrics.IncReplayed(metrics.OutcomeError)
	} else {
		m.metrics.IncReplayed(metrics.OutcomeOK)
	}
	p.settle(out)
}

// failEpisode rejects every buffered request and logs the session out.
// It returns false if ep was no longer the current episode.
func (m *Manager) failEpisode(ctx context.Context, ep *episode, cause error) bool {
	m.lifecycle.Lock()

	m.mu.Lock()
	if m.episode != ep {
		m.mu.Unlock()
		m.lifecycle.Unlock()
		return false
	}
	pending := ep.buffer
	ep.buffer = nil
	m.episode = nil
	m.active = false
	m.mu.Unlock()

	_, persistErr := m.logoutLocked(ctx)
	m.lifecycle.Unlock()

	m.rejectAll(pending, fmt.Errorf("%w: %w", ErrRefreshFailed, cause), metrics.ReasonRefreshFailed)
	if persistErr != nil {
		m.logf("tokenmanager: forced logout could not persist session: %v", persistErr)
	}
	m.logf("tokenmanager: logged out after failed refresh")
	m.events.Fire(events.Logout)
	return true
}

// detach deactivates interception and takes the buffer of the current episode.
func (m *Manager) detach() []*pendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = false
	m.metrics.SetActive(false)

	ep := m.episode
	m.episode = nil
	if ep == nil {
		return nil
	}

	pending := ep.buffer
	ep.buffer = nil
	m.metrics.SetPending(0)
	return pending
}

// supersedeLocked ends the current episode without refreshing and returns it
// with the requests it has not replayed yet. It requires m.mu.
func (m *Manager) supersedeLocked() (*episode, []*pendingRequest) {
	ep := m.episode
	if ep == nil {
		return nil, nil
	}
	m.episode = nil
	pending := ep.buffer[ep.next:]
	ep.buffer = nil
	return ep, pending
}

func (m *Manager) isCurrent(ep *episode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.episode == ep
}

func (m *Manager) rejectAll(pending []*pendingRequest, err error, reason string) {
	if len(pending) == 0 {
		return
	}
	for _, p := range pending {
		p.settle(outcome{err: err})
	}
	m.metrics.AddRejected(reason, len(pending))
}
