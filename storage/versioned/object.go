////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"encoding/json"
	"time"

	jww "github.com/spf13/jwalterweatherman"
)

// Object is the unit stored in a KV.
type Object struct {
	Version   uint64
	Timestamp time.Time
	Data      []byte
}

// Marshal implements ekv.Marshaler.
func (o *Object) Marshal() []byte {
	data, err := json.Marshal(o)
	if err != nil {
		jww.FATAL.Panicf("Failed to marshal versioned object: %+v", err)
	}
	return data
}

// Unmarshal implements ekv.Unmarshaler.
func (o *Object) Unmarshal(data []byte) error {
	return json.Unmarshal(data, o)
}
