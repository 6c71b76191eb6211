////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package loopback

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/cloudflare/circl/dh/x25519"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"gitlab.com/elixxir/parley/session"
)

const (
	announcementInfo = "parley announcement v1"
	messageInfo      = "parley message v1"
	seekerInfo       = "parley seeker v1"
)

// GenerateKeys creates a long-term x25519 key pair.
func GenerateKeys(rng io.Reader) (session.Keys, error) {
	var public, secret x25519.Key
	if _, err := io.ReadFull(rng, secret[:]); err != nil {
		return session.Keys{}, errors.WithMessage(err,
			"failed to read randomness for the secret key")
	}
	x25519.KeyGen(&public, &secret)
	return session.Keys{
		Public: append([]byte{}, public[:]...),
		Secret: append([]byte{}, secret[:]...),
	}, nil
}

// sharedSecret runs the x25519 exchange between our secret and their public
// key.
func sharedSecret(secret, public []byte) ([]byte, error) {
	if len(secret) != x25519.Size || len(public) != x25519.Size {
		return nil, errors.Errorf("x25519 keys must be %d bytes", x25519.Size)
	}

	var s, p, shared x25519.Key
	copy(s[:], secret)
	copy(p[:], public)
	if !x25519.Shared(&shared, &s, &p) {
		return nil, errors.New("public key has low order")
	}
	return shared[:], nil
}

// deriveKey expands the shared secret into a 32 byte symmetric key.
func deriveKey(shared, salt []byte, info string) []byte {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, shared, salt, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails after 255 blocks of output
		panic(err)
	}
	return key
}

// messageSalt binds a message key to the sender's epoch and counter.
func messageSalt(epoch []byte, counter uint64) []byte {
	salt := make([]byte, len(epoch)+8)
	copy(salt, epoch)
	binary.BigEndian.PutUint64(salt[len(epoch):], counter)
	return salt
}

// deriveSeeker computes where the sender files its counter-th message of the
// epoch. Both sides derive the same value.
func deriveSeeker(shared, senderPublic, epoch []byte, counter uint64) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(seekerInfo))
	h.Write(shared)
	h.Write(senderPublic)
	h.Write(messageSalt(epoch, counter))
	return h.Sum(nil)
}

// seal encrypts plaintext with a fresh random nonce prepended to the output.
func seal(rng io.Reader, key, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX,
		chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err = io.ReadFull(rng, nonce); err != nil {
		return nil, errors.WithMessage(err, "failed to generate nonce")
	}
	return aead.Seal(nonce, nonce, plaintext, ad), nil
}

// open reverses seal.
func open(key, sealed, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	return aead.Open(nil, nonce, sealed[chacha20poly1305.NonceSizeX:], ad)
}

// blobKey stretches a caller-supplied storage key to the AEAD key size.
func blobKey(key []byte) []byte {
	k := blake2b.Sum256(key)
	return k[:]
}
