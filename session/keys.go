////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package session

import (
	"gitlab.com/xx_network/primitives/id"
	"golang.org/x/crypto/blake2b"
)

// Keys is the owner's long-term key pair.
type Keys struct {
	Public []byte
	Secret []byte
}

// OwnerID is the peer ID others know the owner by.
func (k Keys) OwnerID() *id.ID {
	return DeriveID(k.Public)
}

// DeriveID maps a public key to its peer ID. The mapping is deterministic so
// both sides of a discussion agree on it.
func DeriveID(publicKey []byte) *id.ID {
	h := blake2b.Sum256(publicKey)
	uid := new(id.ID)
	copy(uid[:id.ArrIDLen-1], h[:])
	uid.SetType(id.User)
	return uid
}
