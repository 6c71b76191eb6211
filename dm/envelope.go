////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dm

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"gitlab.com/elixxir/parley/storage"
)

const envelopeVersion = 0

// envelope is the plaintext handed to the session engine for each message.
type envelope struct {
	Version   uint8               `cbor:"1,keyasint"`
	Type      storage.MessageType `cbor:"2,keyasint"`
	Content   []byte              `cbor:"3,keyasint,omitempty"`
	ReplyTo   []byte              `cbor:"4,keyasint,omitempty"`
	ForwardOf []byte              `cbor:"5,keyasint,omitempty"`
	Timestamp int64               `cbor:"6,keyasint"`
}

func newEnvelope(m *storage.Message) *envelope {
	return &envelope{
		Version:   envelopeVersion,
		Type:      m.Type,
		Content:   m.Content,
		ReplyTo:   m.ReplyTo,
		ForwardOf: m.ForwardOf,
		Timestamp: m.Timestamp.UnixNano(),
	}
}

func (e *envelope) marshal() ([]byte, error) {
	return cbor.Marshal(e)
}

func unmarshalEnvelope(data []byte) (*envelope, error) {
	e := &envelope{}
	if err := cbor.Unmarshal(data, e); err != nil {
		return nil, errors.WithMessage(err, "failed to decode message envelope")
	}
	if e.Version != envelopeVersion {
		return nil, errors.Errorf("unsupported envelope version %d", e.Version)
	}
	return e, nil
}

func (e *envelope) time() time.Time {
	return time.Unix(0, e.Timestamp)
}
