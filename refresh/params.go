////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package refresh

import (
	"encoding/json"
	"time"
)

const (
	defaultRefreshPeriod      = 60 * time.Second
	defaultAnnouncementPeriod = 30 * time.Second
	defaultMessagePeriod      = 10 * time.Second
	defaultRetryPeriod        = 2 * time.Minute
)

// Params are the periods of the background tasks. A zero period disables the
// ticker; the task still runs when triggered.
type Params struct {
	RefreshPeriod      time.Duration
	AnnouncementPeriod time.Duration
	MessagePeriod      time.Duration
	RetryPeriod        time.Duration
}

// GetDefaultParams returns a default set of Params.
func GetDefaultParams() Params {
	return Params{
		RefreshPeriod:      defaultRefreshPeriod,
		AnnouncementPeriod: defaultAnnouncementPeriod,
		MessagePeriod:      defaultMessagePeriod,
		RetryPeriod:        defaultRetryPeriod,
	}
}

// GetParameters returns the default Params, or override with given
// parameters, if set.
func GetParameters(params string) (Params, error) {
	p := GetDefaultParams()
	if len(params) > 0 {
		if err := json.Unmarshal([]byte(params), &p); err != nil {
			return Params{}, err
		}
	}
	return p, nil
}
