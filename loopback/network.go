////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package loopback

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/parley/transport"
)

// ErrOffline is returned by every transport call while the network is
// offline.
var ErrOffline = errors.New("network is offline")

// Network is an in-process announcement board and message store shared by
// any number of clients.
type Network struct {
	mux           sync.RWMutex
	announcements [][]byte
	messages      map[string][]byte
	offline       bool
}

func NewNetwork() *Network {
	return &Network{messages: make(map[string][]byte)}
}

// SetOffline makes every transport call fail until it is set back.
func (n *Network) SetOffline(offline bool) {
	n.mux.Lock()
	n.offline = offline
	n.mux.Unlock()
}

// NumMessages returns how many envelopes are stored.
func (n *Network) NumMessages() int {
	n.mux.RLock()
	defer n.mux.RUnlock()
	return len(n.messages)
}

// Connect returns a client of the network with its own announcement cursor.
func (n *Network) Connect() transport.Transport {
	return &client{net: n}
}

type client struct {
	net    *Network
	mux    sync.Mutex
	cursor int
}

func (c *client) SendAnnouncement(ctx context.Context, data []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.net.mux.Lock()
	defer c.net.mux.Unlock()
	if c.net.offline {
		return 0, ErrOffline
	}
	c.net.announcements = append(c.net.announcements,
		append([]byte{}, data...))
	return uint64(len(c.net.announcements)), nil
}

func (c *client) FetchAnnouncements(ctx context.Context) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.net.mux.RLock()
	defer c.net.mux.RUnlock()
	if c.net.offline {
		return nil, ErrOffline
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	fresh := c.net.announcements[c.cursor:]
	c.cursor = len(c.net.announcements)

	out := make([][]byte, len(fresh))
	copy(out, fresh)
	return out, nil
}

func (c *client) SendMessage(ctx context.Context, env transport.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.net.mux.Lock()
	defer c.net.mux.Unlock()
	if c.net.offline {
		return ErrOffline
	}
	if _, exists := c.net.messages[string(env.Seeker)]; exists {
		jww.WARN.Printf("Overwriting envelope under a reused seeker")
	}
	c.net.messages[string(env.Seeker)] = append([]byte{}, env.Data...)
	return nil
}

func (c *client) FetchMessages(
	ctx context.Context, seekers [][]byte) ([]transport.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.net.mux.RLock()
	defer c.net.mux.RUnlock()
	if c.net.offline {
		return nil, ErrOffline
	}

	var out []transport.Envelope
	for _, seeker := range seekers {
		if data, ok := c.net.messages[string(seeker)]; ok {
			out = append(out, transport.Envelope{
				Seeker: append([]byte{}, seeker...),
				Data:   append([]byte{}, data...),
			})
		}
	}
	return out, nil
}
