package qrelay

import (
	"context"

	"go.uber.org/zap"
)

// StoreAndForward implements C8: when a peer is offline, application
// payloads are base64-encoded and spooled to message_data; the recipient
// later pulls them one-at-a-time, oldest first (§4.7).
type StoreAndForward struct {
	session *Session
	metrics Metrics
	log     *zap.Logger
}

func NewStoreAndForward(session *Session, metrics Metrics, log *zap.Logger) *StoreAndForward {
	return &StoreAndForward{session: session, metrics: metrics, log: log}
}

// Spool stores frame's payload for later pickup by the opposite actor type.
// Oversized payloads are dropped with a logged warning — no error is
// surfaced to the sender (§4.7).
func (q *StoreAndForward) Spool(ctx context.Context, userID uint32, deviceKey string, sender ActorType, f Frame) {
	b64 := EncodePayload(f.Payload)
	if len(b64) > maxStoredPayloadB64 {
		if q.log != nil {
			q.log.Warn("dropping oversized store-and-forward payload",
				zap.String("device_key", deviceKey), zap.Int("encoded_len", len(b64)))
		}
		if q.metrics != nil {
			q.metrics.IncrementQueueDropped()
		}
		return
	}
	if err := q.session.StoreMessage(ctx, userID, deviceKey, sender, f.ID, b64); err != nil {
		if q.log != nil {
			logError(q.log, "failed to spool store-and-forward message", err, zap.String("device_key", deviceKey))
		}
		return
	}
	if q.metrics != nil {
		q.metrics.IncrementQueueSpooled()
	}
}

// Pull returns the oldest frame spooled by senderActor for (userID,
// deviceKey), deleting the row. ok is false when no row matches, in which
// case the caller sends MSG_NO_DATA (§4.7).
func (q *StoreAndForward) Pull(ctx context.Context, userID uint32, deviceKey string, senderActor ActorType) (Frame, bool, error) {
	row, ok, err := q.session.PopOldestMessage(ctx, userID, deviceKey, senderActor)
	if err != nil {
		return Frame{}, false, err
	}
	if !ok {
		return Frame{}, false, nil
	}
	payload, err := DecodePayload(row.MessageDataB64, -1)
	if err != nil {
		return Frame{}, false, err
	}
	if q.metrics != nil {
		q.metrics.IncrementQueueDelivered()
	}
	return Frame{ID: FrameID(row.MessageType), Payload: payload}, true, nil
}
