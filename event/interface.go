////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package event

// Reporter accepts events for asynchronous delivery to subscribers.
type Reporter interface {
	Report(e Event)
}

// Callback receives events. It runs on the event thread, so a slow callback
// delays every other subscriber.
type Callback func(e Event)
