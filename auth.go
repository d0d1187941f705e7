package qrelay

import (
	"context"

	"go.uber.org/zap"
)

// Authenticator drives the per-connection challenge-response state machine
// of §4.5: Fresh -> AwaitingProof -> Authenticated | Rejected.
type Authenticator struct {
	session    *Session
	user       *UserInfo
	channelID  uint32
	metrics    Metrics
	log        *zap.Logger
}

// NewAuthenticator builds the state machine for one connection. channelID
// identifies this server instance for connection_device_channel rows.
func NewAuthenticator(session *Session, user *UserInfo, channelID uint32, metrics Metrics, log *zap.Logger) *Authenticator {
	return &Authenticator{session: session, user: user, channelID: channelID, metrics: metrics, log: log}
}

// HandleRequest processes MSG_AUTH_REQUEST. It returns the AUTH_CHALLENGE
// frame to send, or a ResultCode other than ResultNone (with the cause in
// the error) to send as a terminal AUTH_RESULT. A nil challenge with
// ResultNone means the connection is already authenticated.
func (a *Authenticator) HandleRequest(ctx context.Context, req AuthRequest) (*AuthChallenge, ResultCode, error) {
	u := a.user
	u.mu.Lock()
	if u.State == StateAuthenticated {
		u.mu.Unlock()
		return nil, ResultNone, nil
	}
	u.mu.Unlock()

	if !req.Actor.Valid() {
		return nil, ResultUnknownActor, Wrap(CategoryProtocol, ErrUnknownActor)
	}
	if req.Version != ProtocolVersion {
		return nil, ResultVersion, Wrap(CategoryProtocol, ErrVersionMismatch)
	}

	account, err := a.session.LookupAccountByMail(ctx, req.Mail)
	if err != nil {
		if err == ErrNotFound {
			return nil, ResultAccount, Wrap(CategoryAuth, ErrNoAccount)
		}
		return nil, ResultGeneric, err
	}

	hasDevice, err := a.session.DeviceExists(ctx, account.UserID, req.DeviceKey)
	if err != nil {
		return nil, ResultGeneric, err
	}
	if !hasDevice {
		return nil, ResultNoDevice, Wrap(CategoryAuth, ErrNoDevice)
	}

	salt, key, err := SplitPasswordBlob(account.PasswordB64)
	if err != nil {
		return nil, ResultGeneric, Wrap(CategoryPersistence, err)
	}
	nonce, err := DrawNonce()
	if err != nil {
		return nil, ResultGeneric, Wrap(CategoryTransport, err)
	}

	u.mu.Lock()
	u.UserID = account.UserID
	u.DeviceKey = req.DeviceKey
	u.Actor = req.Actor
	u.PasswordKey = key
	u.Nonce = nonce
	u.State = StateAwaitingProof
	u.mu.Unlock()

	return &AuthChallenge{Salt: salt, Nonce: nonce, HashType: 0}, ResultNone, nil
}

// HandleProof processes MSG_AUTH_PROOF. On success it returns ResultNone
// and the caller (ConnectionTask) is responsible for role-specific
// admission (§4.6) before replying AUTH_RESULT(OK). On failure it records
// the attempt and returns ResultAccount, with exhausted=true once the 3rd
// cumulative failure has spent the budget; the caller then closes the
// connection.
func (a *Authenticator) HandleProof(proof AuthProof) (result ResultCode, exhausted bool, err error) {
	u := a.user
	u.mu.Lock()
	if u.State != StateAwaitingProof {
		u.mu.Unlock()
		return ResultGeneric, false, Wrap(CategoryProtocol, ErrNotAuthenticated)
	}
	key := u.PasswordKey
	nonce := u.Nonce
	u.mu.Unlock()

	ok, verr := OpenProof(proof.NonceHash, key, nonce)
	if verr != nil || !ok {
		exhausted = u.RecordFailure()
		if a.metrics != nil {
			a.metrics.IncrementAuthFailure()
		}
		return ResultAccount, exhausted, nil
	}

	u.mu.Lock()
	u.State = StateAuthenticated
	u.Authenticated = true
	u.mu.Unlock()
	if a.metrics != nil {
		a.metrics.IncrementAuthSuccess()
	}
	return ResultNone, false, nil
}
