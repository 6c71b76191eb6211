////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package loopback is a self-contained implementation of the session engine
// and the transport. The engine runs a one-round x25519 handshake per peer
// and seals each message with XChaCha20-Poly1305 under a key derived from the
// handshake epoch and a message counter. The network keeps everything in
// process memory.
package loopback

import (
	"bytes"
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/parley/session"
)

const epochLen = 16

// Announcement kinds. A reply answers a request and needs no answer itself.
const (
	kindRequest byte = iota + 1
	kindReply
)

// ErrNotActive is returned when encrypting for a peer without an active
// session.
var ErrNotActive = errors.New("session is not active")

// Params tunes the engine's session timers.
type Params struct {
	// KeepAliveInterval is how long an active session may go without an
	// outgoing message before Refresh asks for a keep-alive.
	KeepAliveInterval time.Duration
	// SessionTimeout is how long an active session may go without an
	// incoming message before Refresh kills it.
	SessionTimeout time.Duration
	// MaxUnacked is how many sent messages may await acknowledgement
	// before the session saturates.
	MaxUnacked int
	// SeekerWindow is how many upcoming seekers are watched per peer.
	SeekerWindow int
}

// GetDefaultParams returns the default engine Params.
func GetDefaultParams() Params {
	return Params{
		KeepAliveInterval: 60 * time.Second,
		SessionTimeout:    24 * time.Hour,
		MaxUnacked:        50,
		SeekerWindow:      4,
	}
}

// peerState is everything the engine knows about one peer. Fields are
// exported for serialisation only.
type peerState struct {
	PublicKey []byte
	Shared    []byte

	OurEpoch    []byte
	PeerEpoch   []byte
	SelfPending bool
	PeerPending bool
	Killed      bool

	SendCounter uint64
	RecvCounter uint64
	Unacked     [][]byte
	ToAck       [][]byte

	EstablishedAt time.Time
	LastSent      time.Time
	LastReceived  time.Time
}

func (p *peerState) status(maxUnacked int) session.Status {
	switch {
	case p.Killed:
		return session.Killed
	case p.SelfPending:
		return session.SelfRequested
	case p.PeerPending:
		return session.PeerRequested
	case p.OurEpoch != nil && p.PeerEpoch != nil:
		if maxUnacked > 0 && len(p.Unacked) >= maxUnacked {
			return session.Saturated
		}
		return session.Active
	default:
		return session.NoSession
	}
}

// frame is the plaintext of a message.
type frame struct {
	Acks      [][]byte `cbor:"1,keyasint,omitempty"`
	Payload   []byte   `cbor:"2,keyasint"`
	Timestamp int64    `cbor:"3,keyasint"`
}

// engineState is the serialised form of an Engine.
type engineState struct {
	Peers map[string]*peerState `cbor:"1,keyasint"`
}

// Engine implements session.Module.
type Engine struct {
	keys   session.Keys
	params Params
	rng    io.Reader

	mux       sync.Mutex
	peers     map[id.ID]*peerState
	persistCb func()
}

// NewEngine creates an engine for the owner of keys.
func NewEngine(keys session.Keys, params Params) *Engine {
	return &Engine{
		keys:   keys,
		params: params,
		rng:    rand.Reader,
		peers:  make(map[id.ID]*peerState),
	}
}

func (e *Engine) SetPersistCallback(cb func()) {
	e.mux.Lock()
	e.persistCb = cb
	e.mux.Unlock()
}

// changed runs the persist callback. It must be called without holding mux.
func (e *Engine) changed() {
	e.mux.Lock()
	cb := e.persistCb
	e.mux.Unlock()
	if cb != nil {
		cb()
	}
}

// peer returns the state for the owner of publicKey, creating it if needed.
func (e *Engine) peer(publicKey []byte, keys session.Keys) (*peerState, error) {
	peerID := *session.DeriveID(publicKey)
	if p, ok := e.peers[peerID]; ok {
		return p, nil
	}
	shared, err := sharedSecret(keys.Secret, publicKey)
	if err != nil {
		return nil, err
	}
	p := &peerState{
		PublicKey: append([]byte{}, publicKey...),
		Shared:    shared,
	}
	e.peers[peerID] = p
	return p, nil
}

func (e *Engine) newEpoch() ([]byte, error) {
	epoch := make([]byte, epochLen)
	if _, err := io.ReadFull(e.rng, epoch); err != nil {
		return nil, errors.WithMessage(err, "failed to generate epoch")
	}
	return epoch, nil
}

// EstablishOutgoingSession starts a new epoch for our side. The session is
// active at once if the peer's current epoch is known, otherwise it waits for
// the peer's answer. A killed session forgets the peer's epoch.
func (e *Engine) EstablishOutgoingSession(
	peerPublicKey []byte, keys session.Keys, userData []byte) ([]byte, error) {
	e.mux.Lock()
	announcement, err := e.establish(peerPublicKey, keys, userData)
	e.mux.Unlock()
	if err != nil {
		return nil, err
	}
	e.changed()
	return announcement, nil
}

func (e *Engine) establish(
	peerPublicKey []byte, keys session.Keys, userData []byte) ([]byte, error) {
	p, err := e.peer(peerPublicKey, keys)
	if err != nil {
		return nil, err
	}
	epoch, err := e.newEpoch()
	if err != nil {
		return nil, err
	}

	kind := kindRequest
	if p.PeerPending {
		kind = kindReply
	}
	plaintext := append(append(append([]byte{}, epoch...), kind), userData...)
	key := deriveKey(p.Shared, nil, announcementInfo)
	sealed, err := seal(e.rng, key, plaintext, keys.Public)
	if err != nil {
		return nil, err
	}

	if p.Killed {
		// The peer's epoch died with the session
		p.PeerEpoch = nil
		p.RecvCounter = 0
		p.ToAck = nil
		p.Killed = false
	}
	p.OurEpoch = epoch
	p.SendCounter = 0
	p.Unacked = nil
	p.PeerPending = false
	if p.PeerEpoch != nil {
		p.SelfPending = false
		p.EstablishedAt = netTime.Now()
	} else {
		p.SelfPending = true
	}

	jww.DEBUG.Printf("[LOOPBACK] New epoch for %s: %s",
		session.DeriveID(peerPublicKey), p.status(e.params.MaxUnacked))
	return append(append([]byte{}, keys.Public...), sealed...), nil
}

// FeedIncomingAnnouncement opens an announcement if it was sealed for us. A
// request arriving for an established session leaves it PeerRequested until
// we answer. A reply never does.
func (e *Engine) FeedIncomingAnnouncement(
	data []byte, keys session.Keys) (*session.Announcement, error) {
	pubLen := len(keys.Public)
	if len(data) <= pubLen {
		return nil, errors.New("announcement too short")
	}
	senderPublic := data[:pubLen]
	if bytes.Equal(senderPublic, keys.Public) {
		return nil, nil
	}

	shared, err := sharedSecret(keys.Secret, senderPublic)
	if err != nil {
		return nil, nil
	}
	plaintext, err := open(deriveKey(shared, nil, announcementInfo),
		data[pubLen:], senderPublic)
	if err != nil || len(plaintext) < epochLen+1 {
		// Sealed for someone else
		return nil, nil
	}
	epoch, kind := plaintext[:epochLen], plaintext[epochLen]
	received := &session.Announcement{
		PublicKey: append([]byte{}, senderPublic...),
		UserData:  append([]byte{}, plaintext[epochLen+1:]...),
	}

	e.mux.Lock()
	p, err := e.peer(senderPublic, keys)
	if err != nil {
		e.mux.Unlock()
		return nil, err
	}
	if bytes.Equal(p.PeerEpoch, epoch) {
		// Replay of an announcement already processed
		e.mux.Unlock()
		return received, nil
	}

	established := p.OurEpoch != nil && p.PeerEpoch != nil && !p.Killed
	p.PeerEpoch = append([]byte{}, epoch...)
	p.RecvCounter = 0
	p.ToAck = nil
	switch {
	case p.SelfPending:
		p.SelfPending = false
		p.EstablishedAt = netTime.Now()
	case established && kind == kindReply:
		p.EstablishedAt = netTime.Now()
	default:
		p.PeerPending = true
	}
	p.Killed = false
	e.mux.Unlock()

	e.changed()
	return received, nil
}

func (e *Engine) PeerSessionStatus(peer *id.ID) session.Status {
	e.mux.Lock()
	defer e.mux.Unlock()
	p, ok := e.peers[*peer]
	if !ok {
		return session.UnknownPeer
	}
	return p.status(e.params.MaxUnacked)
}

// Refresh kills sessions that have been silent longer than SessionTimeout
// and lists those whose outgoing side has been idle past KeepAliveInterval.
func (e *Engine) Refresh() ([]*id.ID, error) {
	now := netTime.Now()
	var keepAlive []*id.ID
	killed := 0

	e.mux.Lock()
	for peerID, p := range e.peers {
		if p.status(0) != session.Active {
			continue
		}
		lastHeard := p.LastReceived
		if lastHeard.Before(p.EstablishedAt) {
			lastHeard = p.EstablishedAt
		}
		if e.params.SessionTimeout > 0 && now.Sub(lastHeard) > e.params.SessionTimeout {
			p.Killed = true
			killed++
			continue
		}
		lastSent := p.LastSent
		if lastSent.Before(p.EstablishedAt) {
			lastSent = p.EstablishedAt
		}
		if now.Sub(lastSent) > e.params.KeepAliveInterval {
			peerCopy := peerID
			keepAlive = append(keepAlive, &peerCopy)
		}
	}
	e.mux.Unlock()

	if killed > 0 {
		jww.INFO.Printf("[LOOPBACK] Killed %d silent sessions", killed)
		e.changed()
	}
	return keepAlive, nil
}

func (e *Engine) SendMessage(peer *id.ID, payload []byte) (*session.Outgoing, error) {
	e.mux.Lock()
	out, err := e.send(peer, payload)
	e.mux.Unlock()
	if err != nil {
		return nil, err
	}
	e.changed()
	return out, nil
}

func (e *Engine) send(peer *id.ID, payload []byte) (*session.Outgoing, error) {
	p, ok := e.peers[*peer]
	if !ok {
		return nil, errors.WithMessagef(ErrNotActive, "unknown peer %s", peer)
	}
	if st := p.status(e.params.MaxUnacked); st != session.Active {
		return nil, errors.WithMessagef(ErrNotActive, "session with %s is %s",
			peer, st)
	}

	now := netTime.Now()
	plaintext, err := cbor.Marshal(frame{
		Acks:      p.ToAck,
		Payload:   payload,
		Timestamp: now.UnixNano(),
	})
	if err != nil {
		return nil, err
	}

	seeker := deriveSeeker(p.Shared, e.keys.Public, p.OurEpoch, p.SendCounter)
	key := deriveKey(p.Shared, messageSalt(p.OurEpoch, p.SendCounter), messageInfo)
	sealed, err := seal(e.rng, key, plaintext, seeker)
	if err != nil {
		return nil, err
	}

	p.SendCounter++
	p.Unacked = append(p.Unacked, seeker)
	p.ToAck = nil
	p.LastSent = now
	return &session.Outgoing{Seeker: seeker, Data: sealed}, nil
}

// ReadSeekers lists the next SeekerWindow seekers of every peer whose epoch
// we know.
func (e *Engine) ReadSeekers() [][]byte {
	e.mux.Lock()
	defer e.mux.Unlock()

	var seekers [][]byte
	for _, p := range e.peers {
		if p.PeerEpoch == nil || p.Killed {
			continue
		}
		for i := 0; i < e.window(); i++ {
			seekers = append(seekers, deriveSeeker(
				p.Shared, p.PublicKey, p.PeerEpoch, p.RecvCounter+uint64(i)))
		}
	}
	return seekers
}

func (e *Engine) window() int {
	if e.params.SeekerWindow < 1 {
		return 1
	}
	return e.params.SeekerWindow
}

func (e *Engine) FeedIncomingMessage(
	seeker, data []byte, _ session.Keys) (*session.Incoming, error) {
	e.mux.Lock()
	in, err := e.receive(seeker, data)
	e.mux.Unlock()
	if err != nil || in == nil {
		return in, err
	}
	e.changed()
	return in, nil
}

func (e *Engine) receive(seeker, data []byte) (*session.Incoming, error) {
	for peerID, p := range e.peers {
		if p.PeerEpoch == nil || p.Killed {
			continue
		}
		for i := 0; i < e.window(); i++ {
			counter := p.RecvCounter + uint64(i)
			candidate := deriveSeeker(p.Shared, p.PublicKey, p.PeerEpoch, counter)
			if !bytes.Equal(candidate, seeker) {
				continue
			}

			key := deriveKey(p.Shared, messageSalt(p.PeerEpoch, counter), messageInfo)
			plaintext, err := open(key, data, seeker)
			if err != nil {
				return nil, errors.WithMessage(err, "failed to decrypt message")
			}
			var f frame
			if err = cbor.Unmarshal(plaintext, &f); err != nil {
				return nil, errors.WithMessage(err, "failed to decode message frame")
			}

			p.RecvCounter = counter + 1
			p.ToAck = append(p.ToAck, append([]byte{}, seeker...))
			p.LastReceived = netTime.Now()
			p.Unacked = removeSeekers(p.Unacked, f.Acks)

			sender := peerID
			return &session.Incoming{
				Peer:         &sender,
				Payload:      f.Payload,
				Acknowledged: f.Acks,
				Timestamp:    time.Unix(0, f.Timestamp),
			}, nil
		}
	}
	return nil, nil
}

func removeSeekers(list, remove [][]byte) [][]byte {
	if len(remove) == 0 {
		return list
	}
	kept := list[:0]
outer:
	for _, s := range list {
		for _, r := range remove {
			if bytes.Equal(s, r) {
				continue outer
			}
		}
		kept = append(kept, s)
	}
	return kept
}

// ToEncryptedBlob seals the full engine state under key.
func (e *Engine) ToEncryptedBlob(key []byte) ([]byte, error) {
	e.mux.Lock()
	state := engineState{Peers: make(map[string]*peerState, len(e.peers))}
	for peerID, p := range e.peers {
		state.Peers[string(peerID.Marshal())] = p
	}
	plaintext, err := cbor.Marshal(state)
	e.mux.Unlock()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to encode engine state")
	}
	return seal(e.rng, blobKey(key), plaintext, nil)
}

// Load replaces the engine state with a blob from ToEncryptedBlob.
func (e *Engine) Load(blob, key []byte) error {
	plaintext, err := open(blobKey(key), blob, nil)
	if err != nil {
		return errors.WithMessage(err, "failed to decrypt engine state")
	}
	var state engineState
	if err = cbor.Unmarshal(plaintext, &state); err != nil {
		return errors.WithMessage(err, "failed to decode engine state")
	}

	peers := make(map[id.ID]*peerState, len(state.Peers))
	for raw, p := range state.Peers {
		peerID, err := id.Unmarshal([]byte(raw))
		if err != nil {
			return errors.WithMessage(err, "malformed peer ID in engine state")
		}
		peers[*peerID] = p
	}

	e.mux.Lock()
	e.peers = peers
	e.mux.Unlock()
	return nil
}
