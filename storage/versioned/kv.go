////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package versioned is a prefixed key-value store of versioned objects. The
// messenger keeps the encrypted session blob in it, apart from the relational
// message store.
package versioned

import (
	"fmt"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
)

const PrefixSeparator = "/"

// KV wraps an ekv.KeyValue. Every key is namespaced by the KV's prefix and
// suffixed with the object version.
type KV struct {
	data   ekv.KeyValue
	prefix string
}

// NewKV wraps an existing ekv.KeyValue.
func NewKV(data ekv.KeyValue) *KV {
	return &KV{data: data}
}

// NewFilestoreKV opens an encrypted on-disk store in baseDir.
func NewFilestoreKV(baseDir, password string) (*KV, error) {
	fs, err := ekv.NewFilestore(baseDir, password)
	if err != nil {
		return nil, errors.WithMessagef(err,
			"failed to open key-value store in %s", baseDir)
	}
	return NewKV(fs), nil
}

// NewMemKV returns a KV that lives in memory only.
func NewMemKV() *KV {
	return NewKV(ekv.MakeMemstore())
}

// Get loads the object stored under the key at the given version.
func (v *KV) Get(key string, version uint64) (*Object, error) {
	key = v.makeKey(key, version)
	obj := &Object{}
	if err := v.data.Get(key, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Set stores the object under the key at the object's version.
func (v *KV) Set(key string, object *Object) error {
	key = v.makeKey(key, object.Version)
	jww.TRACE.Printf("Set %s (%d bytes)", key, len(object.Data))
	return v.data.Set(key, object)
}

func (v *KV) Delete(key string, version uint64) error {
	return v.data.Delete(v.makeKey(key, version))
}

// Prefix returns a KV sharing the same backing store under a nested
// namespace.
func (v *KV) Prefix(prefix string) *KV {
	return &KV{
		data:   v.data,
		prefix: v.prefix + prefix + PrefixSeparator,
	}
}

func (v *KV) GetPrefix() string {
	return v.prefix
}

// Exists returns false if the error indicates the key is absent.
func (v *KV) Exists(err error) bool {
	return ekv.Exists(err)
}

func (v *KV) makeKey(key string, version uint64) string {
	return fmt.Sprintf("%s%s_%d", v.prefix, key, version)
}
