////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"bytes"
	"testing"
	"time"
)

func TestKV_SetGetDelete(t *testing.T) {
	kv := NewMemKV()
	obj := &Object{Version: 2, Timestamp: time.Now(), Data: []byte("blob")}

	if err := kv.Set("session", obj); err != nil {
		t.Fatalf("Set returned an error: %+v", err)
	}

	loaded, err := kv.Get("session", 2)
	if err != nil {
		t.Fatalf("Get returned an error: %+v", err)
	}
	if !bytes.Equal(loaded.Data, obj.Data) || loaded.Version != 2 {
		t.Errorf("Loaded object does not match.\nexpected: %+v\nreceived: %+v",
			obj, loaded)
	}

	if _, err = kv.Get("session", 1); kv.Exists(err) {
		t.Errorf("Get of a different version found an object: %v", err)
	}

	if err = kv.Delete("session", 2); err != nil {
		t.Fatalf("Delete returned an error: %+v", err)
	}
	if _, err = kv.Get("session", 2); kv.Exists(err) {
		t.Errorf("Object still present after Delete: %v", err)
	}
}

// Tests that prefixed views do not see each other's keys.
func TestKV_Prefix(t *testing.T) {
	root := NewMemKV()
	a := root.Prefix("a")
	b := root.Prefix("b")

	if a.GetPrefix() != "a/" {
		t.Errorf("Unexpected prefix.\nexpected: %s\nreceived: %s", "a/", a.GetPrefix())
	}
	if nested := a.Prefix("c").GetPrefix(); nested != "a/c/" {
		t.Errorf("Unexpected prefix.\nexpected: %s\nreceived: %s", "a/c/", nested)
	}

	if err := a.Set("key", &Object{Data: []byte("x")}); err != nil {
		t.Fatalf("Set returned an error: %+v", err)
	}
	if _, err := b.Get("key", 0); b.Exists(err) {
		t.Error("Object visible under a different prefix.")
	}
	if _, err := a.Get("key", 0); err != nil {
		t.Errorf("Object not found under its own prefix: %+v", err)
	}
}
