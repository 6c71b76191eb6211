////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package storage

import (
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/id"
	"gorm.io/gorm"
)

func (s *sqlStore) CreateDiscussion(d *Discussion) error {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	ctx, cancel := newContext()
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&Discussion{}).
			Where(ownerPeerClause, d.OwnerID, d.PeerID).Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrExists
		}
		return tx.Create(d).Error
	})
	if errors.Is(err, ErrExists) {
		return errors.WithMessage(ErrExists, "discussion already exists")
	} else if err != nil {
		return errors.Errorf("failed to create discussion: %+v", err)
	}

	jww.TRACE.Printf("[SQL] Created discussion %d (%s, %s)",
		d.ID, d.Status, d.Direction)
	return nil
}

func (s *sqlStore) GetDiscussion(owner, peer *id.ID) (*Discussion, error) {
	ctx, cancel := newContext()
	defer cancel()

	result := &Discussion{}
	err := s.db.WithContext(ctx).
		Where(ownerPeerClause, owner.Marshal(), peer.Marshal()).
		Take(result).Error
	if err != nil {
		return nil, wrapErr(err, "failed to get discussion with %s", peer)
	}
	return result, nil
}

func (s *sqlStore) UpdateDiscussion(owner, peer *id.ID,
	fn func(d *Discussion) error) (*Discussion, error) {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	ctx, cancel := newContext()
	defer cancel()

	result := &Discussion{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where(ownerPeerClause, owner.Marshal(), peer.Marshal()).
			Take(result).Error
		if err != nil {
			return err
		}
		if err = fn(result); err != nil {
			return err
		}
		return tx.Save(result).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapErr(err, "failed to update discussion with %s", peer)
		}
		return nil, errors.WithMessagef(err,
			"failed to update discussion with %s", peer)
	}
	return result, nil
}

func (s *sqlStore) Discussions(owner *id.ID) ([]*Discussion, error) {
	ctx, cancel := newContext()
	defer cancel()

	var results []*Discussion
	err := s.db.WithContext(ctx).Where("owner_id = ?", owner.Marshal()).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, errors.Errorf("failed to list discussions: %+v", err)
	}
	return results, nil
}

func (s *sqlStore) DiscussionsByStatus(
	owner *id.ID, status DiscussionStatus) ([]*Discussion, error) {
	ctx, cancel := newContext()
	defer cancel()

	var results []*Discussion
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", owner.Marshal(), status).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, errors.Errorf("failed to list %s discussions: %+v",
			status, err)
	}
	return results, nil
}
