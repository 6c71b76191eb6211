////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dm

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"
	"gitlab.com/xx_network/primitives/id"

	"gitlab.com/elixxir/parley/event"
	"gitlab.com/elixxir/parley/queue"
	"gitlab.com/elixxir/parley/session"
	"gitlab.com/elixxir/parley/storage"
	"gitlab.com/elixxir/parley/transport"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelInfo)
	os.Exit(m.Run())
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// mockModule is a session.Module whose peer statuses are set by the test.
// Each encryption yields the next numbered seeker.
type mockModule struct {
	mux     sync.Mutex
	status  map[id.ID]session.Status
	sent    int
	sendErr error
}

func newMockModule() *mockModule {
	return &mockModule{status: make(map[id.ID]session.Status)}
}

func (m *mockModule) setStatus(peer *id.ID, st session.Status) {
	m.mux.Lock()
	m.status[*peer] = st
	m.mux.Unlock()
}

func (m *mockModule) encryptions() int {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.sent
}

func (m *mockModule) EstablishOutgoingSession([]byte, session.Keys, []byte) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (m *mockModule) FeedIncomingAnnouncement([]byte, session.Keys) (*session.Announcement, error) {
	return nil, nil
}

func (m *mockModule) PeerSessionStatus(peer *id.ID) session.Status {
	m.mux.Lock()
	defer m.mux.Unlock()
	st, ok := m.status[*peer]
	if !ok {
		return session.UnknownPeer
	}
	return st
}

func (m *mockModule) Refresh() ([]*id.ID, error) { return nil, nil }

func (m *mockModule) SendMessage(peer *id.ID, payload []byte) (*session.Outgoing, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	if m.status[*peer] != session.Active {
		return nil, errors.New("session not active")
	}
	m.sent++
	return &session.Outgoing{
		Seeker: []byte("seeker-" + strconv.Itoa(m.sent)),
		Data:   append([]byte("sealed:"), payload...),
	}, nil
}

func (m *mockModule) ReadSeekers() [][]byte { return nil }

func (m *mockModule) FeedIncomingMessage([]byte, []byte, session.Keys) (*session.Incoming, error) {
	return nil, nil
}

func (m *mockModule) ToEncryptedBlob([]byte) ([]byte, error) { return nil, nil }
func (m *mockModule) Load([]byte, []byte) error              { return nil }
func (m *mockModule) SetPersistCallback(func())              {}

// mockTransport records sent envelopes and fails while offline.
type mockTransport struct {
	mux     sync.Mutex
	sent    []transport.Envelope
	offline bool
}

var errOffline = errors.New("offline")

func (t *mockTransport) setOffline(offline bool) {
	t.mux.Lock()
	t.offline = offline
	t.mux.Unlock()
}

func (t *mockTransport) envelopes() []transport.Envelope {
	t.mux.Lock()
	defer t.mux.Unlock()
	return append([]transport.Envelope{}, t.sent...)
}

func (t *mockTransport) SendAnnouncement(context.Context, []byte) (uint64, error) {
	return 0, nil
}

func (t *mockTransport) FetchAnnouncements(context.Context) ([][]byte, error) {
	return nil, nil
}

func (t *mockTransport) SendMessage(_ context.Context, env transport.Envelope) error {
	t.mux.Lock()
	defer t.mux.Unlock()
	if t.offline {
		return errOffline
	}
	t.sent = append(t.sent, env)
	return nil
}

func (t *mockTransport) FetchMessages(context.Context, [][]byte) ([]transport.Envelope, error) {
	return nil, nil
}

type nopFlusher struct{}

func (nopFlusher) Flush() error { return nil }

// recorder is an event.Reporter that keeps every event.
type recorder struct {
	mux    sync.Mutex
	events []event.Event
}

func (r *recorder) Report(e event.Event) {
	r.mux.Lock()
	r.events = append(r.events, e)
	r.mux.Unlock()
}

func (r *recorder) count(k event.Kind) int {
	r.mux.Lock()
	defer r.mux.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind() == k {
			n++
		}
	}
	return n
}

type testManager struct {
	*Manager
	module *mockModule
	net    *mockTransport
	events *recorder
	peer   *id.ID
}

// newTestManager returns a manager with an active discussion with one peer
// whose session status is st.
func newTestManager(t *testing.T, st session.Status, params Params) *testManager {
	store, err := storage.NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	keys := session.Keys{Public: []byte("owner public key"), Secret: []byte("secret")}
	peer := id.NewIdFromString("peer", id.User, t)
	createDiscussion(t, store, keys.OwnerID(), peer, storage.DiscussionActive)

	module := newMockModule()
	module.setStatus(peer, st)
	net := &mockTransport{}
	events := &recorder{}

	return &testManager{
		Manager: NewManager(keys, store, module, nopFlusher{}, net,
			queue.New[id.ID](), events, params),
		module: module,
		net:    net,
		events: events,
		peer:   peer,
	}
}

func createDiscussion(t *testing.T, store storage.Store, owner, peer *id.ID,
	status storage.DiscussionStatus) {
	require.NoError(t, store.UpsertContact(&storage.Contact{
		OwnerID:   owner.Marshal(),
		PeerID:    peer.Marshal(),
		Name:      peer.String(),
		PublicKey: peer.Marshal(),
	}))
	require.NoError(t, store.CreateDiscussion(&storage.Discussion{
		OwnerID:   owner.Marshal(),
		PeerID:    peer.Marshal(),
		Status:    status,
		Direction: storage.Initiated,
	}))
}

func (tm *testManager) message(t *testing.T, messageID uint64) *storage.Message {
	msg, err := tm.store.GetMessage(tm.owner, messageID)
	require.NoError(t, err)
	return msg
}
