////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package session

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/parley/storage/versioned"
)

const (
	sessionBlobKey     = "SessionBlob"
	sessionBlobVersion = 0
)

// Flusher waits for pending session writes. Ciphertext produced by the engine
// must not reach the network before the state that produced it is stored.
type Flusher interface {
	Flush() error
}

// Persister saves the engine's encrypted state whenever the engine reports a
// change. Saves run asynchronously; Flush waits for them.
type Persister struct {
	module Module
	kv     *versioned.KV
	key    []byte

	// saveMux keeps blobs from being written out of order
	saveMux sync.Mutex

	mux     sync.Mutex
	cond    *sync.Cond
	pending int
	err     error
}

// NewPersister builds a Persister. Call Register to hook it to the engine.
func NewPersister(module Module, kv *versioned.KV, key []byte) *Persister {
	p := &Persister{
		module: module,
		kv:     kv,
		key:    key,
	}
	p.cond = sync.NewCond(&p.mux)
	return p
}

// Register installs the Persister as the engine's persist callback.
func (p *Persister) Register() {
	p.module.SetPersistCallback(p.schedule)
}

func (p *Persister) schedule() {
	p.mux.Lock()
	p.pending++
	p.mux.Unlock()

	go func() {
		err := p.save()

		p.mux.Lock()
		defer p.mux.Unlock()
		if err != nil {
			jww.ERROR.Printf("Failed to persist session state: %+v", err)
			if p.err == nil {
				p.err = err
			}
		}
		p.pending--
		if p.pending == 0 {
			p.cond.Broadcast()
		}
	}()
}

func (p *Persister) save() error {
	p.saveMux.Lock()
	defer p.saveMux.Unlock()

	blob, err := p.module.ToEncryptedBlob(p.key)
	if err != nil {
		return errors.WithMessage(err, "failed to serialise session state")
	}

	obj := &versioned.Object{
		Version:   sessionBlobVersion,
		Timestamp: netTime.Now(),
		Data:      blob,
	}
	if err = p.kv.Set(sessionBlobKey, obj); err != nil {
		return errors.WithMessage(err, "failed to store session state")
	}
	return nil
}

// Flush blocks until every save scheduled so far has finished. It returns the
// first save error since the previous Flush.
func (p *Persister) Flush() error {
	p.mux.Lock()
	defer p.mux.Unlock()
	for p.pending > 0 {
		p.cond.Wait()
	}
	err := p.err
	p.err = nil
	return err
}

// Restore loads the stored blob into the engine. It returns false when no
// blob has been stored yet.
func (p *Persister) Restore() (bool, error) {
	obj, err := p.kv.Get(sessionBlobKey, sessionBlobVersion)
	if err != nil {
		if !p.kv.Exists(err) {
			return false, nil
		}
		return false, errors.WithMessage(err, "failed to read session state")
	}

	if err = p.module.Load(obj.Data, p.key); err != nil {
		return false, errors.WithMessage(err, "failed to load session state")
	}

	jww.INFO.Printf("Restored session state saved at %s", obj.Timestamp)
	return true, nil
}
