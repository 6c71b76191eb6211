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
	"gitlab.com/xx_network/primitives/netTime"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm/clause"
)

// inboxHash identifies identical payloads in an inbox.
func inboxHash(data []byte) []byte {
	h := blake2b.Sum256(data)
	return h[:]
}

func (s *sqlStore) AddPendingAnnouncement(owner *id.ID, data []byte) (bool, error) {
	ctx, cancel := newContext()
	defer cancel()

	row := &PendingAnnouncement{
		OwnerID:    owner.Marshal(),
		Hash:       inboxHash(data),
		Data:       data,
		ReceivedAt: netTime.Now(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if result.Error != nil {
		return false, errors.Errorf("failed to queue announcement: %+v",
			result.Error)
	}

	added := result.RowsAffected > 0
	jww.TRACE.Printf("[SQL] Queued announcement (new: %t)", added)
	return added, nil
}

func (s *sqlStore) PendingAnnouncements(
	owner *id.ID, limit int) ([]*PendingAnnouncement, error) {
	ctx, cancel := newContext()
	defer cancel()

	var results []*PendingAnnouncement
	query := s.db.WithContext(ctx).Where("owner_id = ?", owner.Marshal()).
		Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&results).Error; err != nil {
		return nil, errors.Errorf("failed to read announcement inbox: %+v", err)
	}
	return results, nil
}

func (s *sqlStore) DeletePendingAnnouncements(owner *id.ID, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := newContext()
	defer cancel()

	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND id IN ?", owner.Marshal(), ids).
		Delete(&PendingAnnouncement{}).Error
	if err != nil {
		return errors.Errorf("failed to drain announcement inbox: %+v", err)
	}
	return nil
}

func (s *sqlStore) AddPendingMessage(owner *id.ID, seeker, data []byte) (bool, error) {
	ctx, cancel := newContext()
	defer cancel()

	row := &PendingMessage{
		OwnerID:    owner.Marshal(),
		Hash:       inboxHash(append(append([]byte{}, seeker...), data...)),
		Seeker:     seeker,
		Data:       data,
		ReceivedAt: netTime.Now(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if result.Error != nil {
		return false, errors.Errorf("failed to queue message: %+v",
			result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *sqlStore) PendingMessages(owner *id.ID, limit int) ([]*PendingMessage, error) {
	ctx, cancel := newContext()
	defer cancel()

	var results []*PendingMessage
	query := s.db.WithContext(ctx).Where("owner_id = ?", owner.Marshal()).
		Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&results).Error; err != nil {
		return nil, errors.Errorf("failed to read message inbox: %+v", err)
	}
	return results, nil
}

func (s *sqlStore) DeletePendingMessages(owner *id.ID, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := newContext()
	defer cancel()

	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND id IN ?", owner.Marshal(), ids).
		Delete(&PendingMessage{}).Error
	if err != nil {
		return errors.Errorf("failed to drain message inbox: %+v", err)
	}
	return nil
}
