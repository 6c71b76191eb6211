////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package storage

import (
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"
	"gorm.io/gorm"
)

const ownerPeerClause = "owner_id = ? AND peer_id = ?"

func (s *sqlStore) UpsertContact(c *Contact) error {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	ctx, cancel := newContext()
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := &Contact{}
		err := tx.Where(ownerPeerClause, c.OwnerID, c.PeerID).Take(existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(c).Error
		} else if err != nil {
			return err
		}

		existing.Name = c.Name
		if len(c.PublicKey) > 0 {
			existing.PublicKey = c.PublicKey
		}
		if err = tx.Save(existing).Error; err != nil {
			return err
		}
		*c = *existing
		return nil
	})
	if err != nil {
		return errors.Errorf("failed to upsert contact: %+v", err)
	}

	jww.TRACE.Printf("[SQL] Stored contact %d (%s)", c.ID, c.Name)
	return nil
}

func (s *sqlStore) GetContact(owner, peer *id.ID) (*Contact, error) {
	ctx, cancel := newContext()
	defer cancel()

	result := &Contact{}
	err := s.db.WithContext(ctx).
		Where(ownerPeerClause, owner.Marshal(), peer.Marshal()).
		Take(result).Error
	if err != nil {
		return nil, wrapErr(err, "failed to get contact %s", peer)
	}
	return result, nil
}

func (s *sqlStore) Contacts(owner *id.ID) ([]*Contact, error) {
	ctx, cancel := newContext()
	defer cancel()

	var results []*Contact
	err := s.db.WithContext(ctx).Where("owner_id = ?", owner.Marshal()).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, errors.Errorf("failed to list contacts: %+v", err)
	}
	return results, nil
}

func (s *sqlStore) TouchContact(owner, peer *id.ID, seen time.Time) error {
	ctx, cancel := newContext()
	defer cancel()

	err := s.db.WithContext(ctx).Model(&Contact{}).
		Where(ownerPeerClause, owner.Marshal(), peer.Marshal()).
		Updates(map[string]interface{}{"is_online": true, "last_seen": seen}).
		Error
	if err != nil {
		return errors.Errorf("failed to update last seen of %s: %+v", peer, err)
	}
	return nil
}

func (s *sqlStore) DeleteContact(owner, peer *id.ID) error {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	ctx, cancel := newContext()
	defer cancel()

	ownerBytes, peerBytes := owner.Marshal(), peer.Marshal()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(ownerPeerClause, ownerBytes, peerBytes).
			Delete(&Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where(ownerPeerClause, ownerBytes, peerBytes).
			Delete(&Discussion{}).Error; err != nil {
			return err
		}
		return tx.Where(ownerPeerClause, ownerBytes, peerBytes).
			Delete(&Contact{}).Error
	})
	if err != nil {
		return errors.Errorf("failed to delete contact %s: %+v", peer, err)
	}

	jww.DEBUG.Printf("[SQL] Deleted contact %s with its discussion", peer)
	return nil
}
