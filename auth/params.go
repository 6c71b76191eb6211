////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package auth

import (
	"encoding/json"
	"time"
)

// Params configures the discussion lifecycle and announcement ingestion.
type Params struct {
	// AutoAccept accepts every new incoming discussion request as soon as
	// it is ingested.
	AutoAccept bool

	// SendTimeout bounds each announcement publish.
	SendTimeout time.Duration

	// FetchTimeout bounds each announcement fetch.
	FetchTimeout time.Duration

	// InboxBatch is the most out-of-band announcements drained per pass.
	InboxBatch int
}

// GetDefaultParams returns a default set of Params.
func GetDefaultParams() Params {
	return Params{
		AutoAccept:   false,
		SendTimeout:  30 * time.Second,
		FetchTimeout: 30 * time.Second,
		InboxBatch:   100,
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
