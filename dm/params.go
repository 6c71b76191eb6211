////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package dm

import (
	"encoding/json"
	"strconv"
	"time"
)

// RecoveryPolicy decides what happens at startup to messages whose send was
// interrupted.
type RecoveryPolicy uint8

const (
	// RecoverAsFailed marks interrupted sends failed. They are only sent
	// again through Resend.
	RecoverAsFailed RecoveryPolicy = iota

	// RecoverAsWaiting parks interrupted sends until the session is next
	// usable, when they are sent again automatically.
	RecoverAsWaiting
)

func (rp RecoveryPolicy) String() string {
	switch rp {
	case RecoverAsFailed:
		return "failed"
	case RecoverAsWaiting:
		return "waiting"
	default:
		return "INVALID RECOVERY POLICY: " + strconv.Itoa(int(rp))
	}
}

// Params configures the delivery pipeline.
type Params struct {
	// SendTimeout bounds each transport send.
	SendTimeout time.Duration

	// FetchTimeout bounds each transport fetch.
	FetchTimeout time.Duration

	// InboxBatch is the most out-of-band messages drained per fetch.
	InboxBatch int

	// ResendRate is the most resent messages transmitted per second across
	// all peers. Zero disables pacing.
	ResendRate int

	// PreviewLength is the most runes of a message kept as the discussion's
	// last message preview.
	PreviewLength int

	// InterruptedSendPolicy is applied by RecoverInterrupted.
	InterruptedSendPolicy RecoveryPolicy
}

// GetDefaultParams returns a default set of Params.
func GetDefaultParams() Params {
	return Params{
		SendTimeout:           30 * time.Second,
		FetchTimeout:          30 * time.Second,
		InboxBatch:            100,
		ResendRate:            10,
		PreviewLength:         64,
		InterruptedSendPolicy: RecoverAsFailed,
	}
}

// GetParameters returns the default Params, or overrides them with the given
// JSON if set.
func GetParameters(params string) (Params, error) {
	p := GetDefaultParams()
	if len(params) > 0 {
		if err := json.Unmarshal([]byte(params), &p); err != nil {
			return Params{}, err
		}
	}
	return p, nil
}
