////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package messenger

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/elixxir/parley/auth"
	"gitlab.com/elixxir/parley/dm"
	"gitlab.com/elixxir/parley/refresh"
)

// Params holds the settings of every component the Messenger wires.
type Params struct {
	Auth    auth.Params
	DM      dm.Params
	Refresh refresh.Params

	// SendRate caps transport sends per second. Zero leaves them unlimited.
	SendRate int

	// RenewTimeout bounds each background session renewal.
	RenewTimeout time.Duration

	// StopTimeout is how long Stop waits for running tasks.
	StopTimeout time.Duration
}

// GetDefaultParams returns a default set of Params.
func GetDefaultParams() Params {
	return Params{
		Auth:         auth.GetDefaultParams(),
		DM:           dm.GetDefaultParams(),
		Refresh:      refresh.GetDefaultParams(),
		SendRate:     0,
		RenewTimeout: 30 * time.Second,
		StopTimeout:  10 * time.Second,
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

// Configuration keys read by LoadParams.
const (
	autoAcceptKey         = "auth.autoAccept"
	announceTimeoutKey    = "auth.sendTimeout"
	announceFetchKey      = "auth.fetchTimeout"
	announceInboxBatchKey = "auth.inboxBatch"
	sendTimeoutKey        = "dm.sendTimeout"
	fetchTimeoutKey       = "dm.fetchTimeout"
	inboxBatchKey         = "dm.inboxBatch"
	resendRateKey         = "dm.resendRate"
	previewLengthKey      = "dm.previewLength"
	interruptedSendKey    = "dm.interruptedSends"
	refreshPeriodKey      = "refresh.refreshPeriod"
	announcementPeriodKey = "refresh.announcementPeriod"
	messagePeriodKey      = "refresh.messagePeriod"
	retryPeriodKey        = "refresh.retryPeriod"
	sendRateKey           = "sendRate"
	renewTimeoutKey       = "renewTimeout"
	stopTimeoutKey        = "stopTimeout"
	interruptedAsWaiting  = "waiting"
	interruptedAsFailed   = "failed"
)

// LoadParams reads Params from a YAML, JSON or TOML file. Keys missing from
// the file keep their default values. Durations are written like "30s".
func LoadParams(path string) (Params, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Params{}, errors.WithMessagef(err,
			"failed to read configuration from %s", path)
	}

	p := GetDefaultParams()

	setBool(v, autoAcceptKey, &p.Auth.AutoAccept)
	setDuration(v, announceTimeoutKey, &p.Auth.SendTimeout)
	setDuration(v, announceFetchKey, &p.Auth.FetchTimeout)
	setInt(v, announceInboxBatchKey, &p.Auth.InboxBatch)

	setDuration(v, sendTimeoutKey, &p.DM.SendTimeout)
	setDuration(v, fetchTimeoutKey, &p.DM.FetchTimeout)
	setInt(v, inboxBatchKey, &p.DM.InboxBatch)
	setInt(v, resendRateKey, &p.DM.ResendRate)
	setInt(v, previewLengthKey, &p.DM.PreviewLength)
	if v.IsSet(interruptedSendKey) {
		switch policy := v.GetString(interruptedSendKey); policy {
		case interruptedAsFailed:
			p.DM.InterruptedSendPolicy = dm.RecoverAsFailed
		case interruptedAsWaiting:
			p.DM.InterruptedSendPolicy = dm.RecoverAsWaiting
		default:
			return Params{}, errors.Errorf("invalid %s %q: must be %q or %q",
				interruptedSendKey, policy, interruptedAsFailed,
				interruptedAsWaiting)
		}
	}

	setDuration(v, refreshPeriodKey, &p.Refresh.RefreshPeriod)
	setDuration(v, announcementPeriodKey, &p.Refresh.AnnouncementPeriod)
	setDuration(v, messagePeriodKey, &p.Refresh.MessagePeriod)
	setDuration(v, retryPeriodKey, &p.Refresh.RetryPeriod)

	setInt(v, sendRateKey, &p.SendRate)
	setDuration(v, renewTimeoutKey, &p.RenewTimeout)
	setDuration(v, stopTimeoutKey, &p.StopTimeout)

	jww.INFO.Printf("Loaded parameters from %s", v.ConfigFileUsed())
	return p, nil
}

func setBool(v *viper.Viper, key string, field *bool) {
	if v.IsSet(key) {
		*field = v.GetBool(key)
	}
}

func setInt(v *viper.Viper, key string, field *int) {
	if v.IsSet(key) {
		*field = v.GetInt(key)
	}
}

func setDuration(v *viper.Viper, key string, field *time.Duration) {
	if v.IsSet(key) {
		*field = v.GetDuration(key)
	}
}
