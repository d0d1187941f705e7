package qrelay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Role is the deployment role a server instance plays; both share the same
// core code but activate different task classes (§2).
type Role int

const (
	RoleConnection Role = iota
	RoleCommunication
)

// ticksPerTurn bounds the per-connection work performed in one Perform
// call, to prevent one connection from starving the pool (§4.6, §9).
const ticksPerTurn = 10

// ConnectionTask is the per-connection driver (C11): it couples the
// transport handle, UserInfo, and (for the communication role) a
// MessageExchange reference. It implements Job so the worker pool can
// drive it; TryLock/Unlock come from the embedded sync.Mutex and give the
// per-job exclusion required by §4.9/§5.
type ConnectionTask struct {
	sync.Mutex

	transport Transport
	handle    *Handle
	user      *UserInfo
	role      Role
	channelID uint32
	directory *ExchangeDirectory
	metrics   Metrics
	log       *zap.Logger
	list      *JobList

	exchange *MessageExchange // nil until role admission succeeds

	inboxMu sync.Mutex
	inbox   [][]byte

	closing   bool  // local teardown already ran
	lastTouch int64 // unix seconds of the last channel_list heartbeat
}

// channelTouchIntervalSeconds bounds how often a live platform connection
// refreshes its channel_list.last_update heartbeat (§4.8's 300s liveness
// window; the original never wrote this field at all — see SPEC_FULL.md §5).
const channelTouchIntervalSeconds = 60

// NewConnectionTask builds the task for a freshly admitted handle. The
// caller registers it with the job list after construction.
func NewConnectionTask(transport Transport, handle *Handle, role Role, channelID uint32, directory *ExchangeDirectory, metrics Metrics, log *zap.Logger, list *JobList) *ConnectionTask {
	return &ConnectionTask{
		transport: transport,
		handle:    handle,
		user:      NewUserInfo(),
		role:      role,
		channelID: channelID,
		directory: directory,
		metrics:   metrics,
		log:       log,
		list:      list,
	}
}

// OnFrame is the transport callback: it queues the frame for the next
// Perform tick and wakes a parked worker.
func (t *ConnectionTask) OnFrame(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	t.inboxMu.Lock()
	t.inbox = append(t.inbox, cp)
	t.inboxMu.Unlock()
	t.list.Wake()
}

func (t *ConnectionTask) popInbox() ([]byte, bool) {
	t.inboxMu.Lock()
	defer t.inboxMu.Unlock()
	if len(t.inbox) == 0 {
		return nil, false
	}
	f := t.inbox[0]
	t.inbox = t.inbox[1:]
	return f, true
}

func (t *ConnectionTask) send(ctx context.Context, session *Session, id FrameID, payload []byte) {
	buf, err := EncodeFrame(id, payload)
	if err != nil {
		if t.log != nil {
			logError(t.log, "failed to encode outbound frame", err)
		}
		return
	}
	if err := t.transport.Send(t.handle, buf); err != nil {
		if t.log != nil {
			logError(t.log, "failed to send outbound frame", err)
		}
	}
}

func (t *ConnectionTask) sendAuthResult(ctx context.Context, session *Session, result ResultCode) {
	p, _ := EncodeAuthResult(AuthResult{Result: result})
	if err := t.transport.Send(t.handle, p); err != nil {
		if t.log != nil {
			logError(t.log, "failed to send auth result", err)
		}
	}
}

// Perform implements Job. It runs the per-tick loop of §4.6 (communication
// role) or the channel-lookup dispatcher (connection role), running at most
// ticksPerTurn loop iterations before yielding; each iteration handles at
// most one inbound frame and forwards at most one queued frame. Per §4.10 it
// returns false (permanent removal) on transport closure, authentication
// exhaustion, or a fatal protocol error; true to be revisited later.
func (t *ConnectionTask) Perform(ctx context.Context, session *Session) bool {
	if !t.handle.IsConnected() {
		t.teardown(ctx, session)
		return false
	}

	t.heartbeatChannel(ctx, session)

	didWork := false
	for i := 0; i < ticksPerTurn; i++ {
		progressed := false

		if frame, ok := t.popInbox(); ok {
			progressed = true
			if finished := t.handleInbound(ctx, session, frame); finished {
				t.teardown(ctx, session)
				return false
			}
		}

		if t.role == RoleCommunication {
			if t.forwardOne(ctx, session) {
				progressed = true
			}
		}

		if !progressed {
			break
		}
		didWork = true
	}
	_ = didWork
	return true
}

// handleInbound dispatches one raw inbound frame and reports whether the
// connection must be terminated.
func (t *ConnectionTask) handleInbound(ctx context.Context, session *Session, raw []byte) bool {
	f, err := DecodeFrame(raw)
	if err != nil {
		if t.log != nil {
			logError(t.log, "dropping connection on malformed frame", Wrap(CategoryProtocol, err))
		}
		t.handle.Close()
		return true
	}

	switch f.ID {
	case FrameAuthRequest:
		return t.onAuthRequest(ctx, session, f)
	case FrameAuthProof:
		return t.onAuthProof(ctx, session, f)
	case FramePairRequest, FramePairProof:
		return t.onAuthClassFrame(ctx, session)
	}

	t.user.mu.Lock()
	authenticated := t.user.State == StateAuthenticated
	actor := t.user.Actor
	userID := t.user.UserID
	deviceKey := t.user.DeviceKey
	t.user.mu.Unlock()

	if !authenticated {
		if t.log != nil {
			logError(t.log, "dropping connection on frame before authentication", Wrap(CategoryProtocol, ErrNotAuthenticated))
		}
		t.handle.Close()
		return true
	}

	if t.role == RoleConnection {
		if f.ID == FrameChannelRequest {
			t.onChannelRequest(ctx, session, f, userID, deviceKey, actor)
			t.handle.Close()
			return true
		}
		// the connection role is a directory-only front door: anything
		// else after authentication ends the visit.
		t.handle.Close()
		return true
	}

	switch f.ID {
	case FrameGetData:
		t.onGetData(ctx, session, userID, deviceKey, actor)
	default:
		t.relayOrSpool(ctx, session, userID, deviceKey, actor, f)
	}
	return false
}

func (t *ConnectionTask) onAuthRequest(ctx context.Context, session *Session, f Frame) bool {
	req, err := DecodeAuthRequest(f.Payload)
	if err != nil {
		t.handle.Close()
		return true
	}
	auth := NewAuthenticator(session, t.user, t.channelID, t.metrics, t.log)
	challenge, result, err := auth.HandleRequest(ctx, req)
	if err != nil {
		if t.log != nil {
			logError(t.log, "auth request failed", err)
		}
	}
	if result != ResultNone {
		t.sendAuthResult(ctx, session, result)
		t.handle.Close()
		return true
	}
	if challenge == nil {
		// idempotent duplicate while already Authenticated.
		t.sendAuthResult(ctx, session, ResultNone)
		return false
	}
	p, err := EncodeAuthChallenge(*challenge)
	if err != nil {
		t.handle.Close()
		return true
	}
	if err := t.transport.Send(t.handle, p); err != nil {
		t.handle.Close()
		return true
	}
	return false
}

func (t *ConnectionTask) onAuthProof(ctx context.Context, session *Session, f Frame) bool {
	proof, err := DecodeAuthProof(f.Payload)
	if err != nil {
		t.handle.Close()
		return true
	}
	auth := NewAuthenticator(session, t.user, t.channelID, t.metrics, t.log)
	result, exhausted, err := auth.HandleProof(proof)
	if err != nil {
		if t.log != nil {
			logError(t.log, "auth proof failed", err)
		}
		t.sendAuthResult(ctx, session, ResultGeneric)
		t.handle.Close()
		return true
	}
	if result != ResultNone {
		t.sendAuthResult(ctx, session, result)
		if exhausted {
			t.handle.Close()
			return true
		}
		return false
	}

	admitResult := t.admit(ctx, session)
	t.sendAuthResult(ctx, session, admitResult)
	if admitResult != ResultNone {
		t.handle.Close()
		return true
	}
	return false
}

func (t *ConnectionTask) onAuthClassFrame(ctx context.Context, session *Session) bool {
	t.user.mu.Lock()
	authenticated := t.user.State == StateAuthenticated
	t.user.mu.Unlock()
	if authenticated {
		t.sendAuthResult(ctx, session, ResultNone)
		return false
	}
	t.handle.Close()
	return true
}

// admit performs role-specific admission after a successful proof (§4.6).
func (t *ConnectionTask) admit(ctx context.Context, session *Session) ResultCode {
	if t.role == RoleConnection {
		return ResultNone
	}

	t.user.mu.Lock()
	actor := t.user.Actor
	userID := t.user.UserID
	deviceKey := t.user.DeviceKey
	t.user.mu.Unlock()

	switch actor {
	case ActorPlatform:
		exists, err := session.ConnectionChannelExists(ctx, t.channelID, deviceKey)
		if err != nil {
			return ResultGeneric
		}
		if exists {
			if t.metrics != nil {
				t.metrics.IncrementExchangeAlreadyConnected()
			}
			return ResultAlreadyConnected
		}
		ex := NewMessageExchange(deviceKey)
		ex.Acquire()
		t.directory.Insert(ex)
		if err := session.InsertConnectionChannel(ctx, t.channelID, userID, deviceKey); err != nil {
			t.directory.Remove(ex)
			return ResultGeneric
		}
		t.exchange = ex

		now := unixNow()
		if err := session.AdjustAssistantConnections(ctx, t.channelID, 1); err != nil && t.log != nil {
			logError(t.log, "failed to increment assistant_connections on admission", err)
		}
		if err := session.TouchChannel(ctx, t.channelID, now); err != nil && t.log != nil {
			logError(t.log, "failed to touch channel heartbeat on admission", err)
		}
		t.lastTouch = now

		if t.metrics != nil {
			t.metrics.IncrementExchangePaired()
		}
		return ResultNone

	case ActorApp:
		ex, ok := t.directory.Pop(deviceKey)
		if !ok {
			return ResultNoDevice
		}
		ex.ClearQueues()
		ex.Acquire()
		t.exchange = ex
		if t.metrics != nil {
			t.metrics.IncrementExchangePaired()
		}
		return ResultNone

	default:
		return ResultUnknownActor
	}
}

func (t *ConnectionTask) onChannelRequest(ctx context.Context, session *Session, f Frame, userID uint32, deviceKey string, actor ActorType) {
	req, err := DecodeChannelRequest(f.Payload)
	if err != nil {
		return
	}
	dir := NewChannelDirectory(session, t.metrics, nil)
	var row ChannelRow
	var result ResultCode
	if actor == ActorApp {
		row, result, err = dir.LookupForApp(ctx, userID, deviceKey, req.Name)
	} else {
		row, result, err = dir.LookupForPlatform(ctx, req.Name)
	}
	if err != nil {
		result = ResultGeneric
	}
	resp := ChannelResponse{Name: req.Name, Result: result}
	if result == ResultNone {
		resp.Address = row.Address
		resp.Port = row.Port
	}
	p, err := EncodeChannelResponse(resp)
	if err != nil {
		return
	}
	_ = t.transport.Send(t.handle, p)
}

func (t *ConnectionTask) onGetData(ctx context.Context, session *Session, userID uint32, deviceKey string, actor ActorType) {
	q := NewStoreAndForward(session, t.metrics, t.log)
	frame, ok, err := q.Pull(ctx, userID, deviceKey, actor.Other())
	if err != nil {
		if t.log != nil {
			logError(t.log, "store-and-forward pull failed", err)
		}
		t.send(ctx, session, FrameNoData, []byte{0})
		return
	}
	if !ok {
		t.send(ctx, session, FrameNoData, []byte{0})
		return
	}
	t.send(ctx, session, frame.ID, frame.Payload)
}

// relayOrSpool enqueues an application frame for the peer when both sides
// of the exchange are live, or spools it to the store-and-forward queue
// when the peer is absent or the queue is full (§4.7).
func (t *ConnectionTask) relayOrSpool(ctx context.Context, session *Session, userID uint32, deviceKey string, actor ActorType, f Frame) {
	if t.exchange != nil && t.exchange.HolderCount() == 2 {
		raw, err := EncodeFrame(f.ID, f.Payload)
		if err == nil && t.exchange.PushFrom(actor, raw) {
			t.list.Wake()
			return
		}
	}
	q := NewStoreAndForward(session, t.metrics, t.log)
	q.Spool(ctx, userID, deviceKey, actor, f)
}

// forwardOne dequeues at most one frame addressed to this connection and
// forwards it over the transport, returning whether it did anything
// (§4.6 step 3).
func (t *ConnectionTask) forwardOne(ctx context.Context, session *Session) bool {
	if t.exchange == nil {
		return false
	}
	t.user.mu.Lock()
	actor := t.user.Actor
	t.user.mu.Unlock()

	raw, ok := t.exchange.PopFor(actor)
	if !ok {
		return false
	}
	f, err := DecodeFrame(raw)
	if err != nil {
		return true
	}

	if f.ID == FramePartnerClosed && actor == ActorPlatform {
		// §4.6 point 4: platform does not terminate on partner-closed; it
		// clears queues and relists the exchange for a new app.
		t.exchange.ClearQueues()
		t.directory.Insert(t.exchange)
		return true
	}

	_ = t.transport.Send(t.handle, raw)
	return true
}

// heartbeatChannel refreshes this task's channel_list row while it hosts a
// live platform connection, so the 300s liveness window of §4.8 reflects
// real activity instead of the admission-time value. Throttled to once per
// channelTouchIntervalSeconds since it runs every Perform tick.
func (t *ConnectionTask) heartbeatChannel(ctx context.Context, session *Session) {
	if t.role != RoleCommunication || t.exchange == nil {
		return
	}
	t.user.mu.Lock()
	actor := t.user.Actor
	t.user.mu.Unlock()
	if actor != ActorPlatform {
		return
	}

	now := unixNow()
	if now-t.lastTouch < channelTouchIntervalSeconds {
		return
	}
	if err := session.TouchChannel(ctx, t.channelID, now); err != nil {
		if t.log != nil {
			logError(t.log, "failed to refresh channel heartbeat", err)
		}
		return
	}
	t.lastTouch = now
}

// teardown runs the local-closure cleanup of §4.6 step 1. The caller always
// drops the job from the pool afterward.
func (t *ConnectionTask) teardown(ctx context.Context, session *Session) {
	if t.closing {
		return
	}
	t.closing = true

	t.user.mu.Lock()
	actor := t.user.Actor
	deviceKey := t.user.DeviceKey
	t.user.mu.Unlock()

	if t.exchange != nil {
		partnerClosed, _ := EncodeFrame(FramePartnerClosed, nil)
		t.exchange.PushFrom(actor, partnerClosed)
		t.list.Wake()

		if actor == ActorPlatform {
			if err := session.DeleteConnectionChannel(ctx, t.channelID, deviceKey); err != nil && t.log != nil {
				logError(t.log, "failed to delete connection_device_channel on teardown", err)
			}
			if err := session.AdjustAssistantConnections(ctx, t.channelID, -1); err != nil && t.log != nil {
				logError(t.log, "failed to decrement assistant_connections on teardown", err)
			}
			t.directory.Remove(t.exchange)
		}
		t.exchange.Release()
	}

	if t.metrics != nil {
		t.metrics.IncrementConnectionsClosed()
	}
	t.user.Destroy()
}
