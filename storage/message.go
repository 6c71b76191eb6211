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

func (s *sqlStore) AddMessage(m *Message) error {
	ctx, cancel := newContext()
	defer cancel()

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return errors.Errorf("failed to store message: %+v", err)
	}

	jww.TRACE.Printf("[SQL] Stored %s %s message %d as %s",
		m.Direction, m.Type, m.ID, m.Status)
	return nil
}

func (s *sqlStore) GetMessage(owner *id.ID, messageID uint64) (*Message, error) {
	ctx, cancel := newContext()
	defer cancel()

	result := &Message{}
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", owner.Marshal(), messageID).
		Take(result).Error
	if err != nil {
		return nil, wrapErr(err, "failed to get message %d", messageID)
	}
	return result, nil
}

func (s *sqlStore) GetMessageBySeeker(owner *id.ID, seeker []byte) (*Message, error) {
	if len(seeker) == 0 {
		return nil, errors.WithMessage(ErrNotFound, "empty seeker")
	}

	ctx, cancel := newContext()
	defer cancel()

	result := &Message{}
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND seeker = ?", owner.Marshal(), seeker).
		Take(result).Error
	if err != nil {
		return nil, wrapErr(err, "failed to get message by seeker")
	}
	return result, nil
}

func (s *sqlStore) UpdateMessage(owner *id.ID, messageID uint64,
	fn func(m *Message) error) (*Message, error) {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	ctx, cancel := newContext()
	defer cancel()

	result := &Message{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("owner_id = ? AND id = ?", owner.Marshal(), messageID).
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
			return nil, wrapErr(err, "failed to update message %d", messageID)
		}
		return nil, errors.WithMessagef(err,
			"failed to update message %d", messageID)
	}
	return result, nil
}

func (s *sqlStore) MessagesByStatus(
	owner, peer *id.ID, status MessageStatus) ([]*Message, error) {
	ctx, cancel := newContext()
	defer cancel()

	query := s.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", owner.Marshal(), status)
	if peer != nil {
		query = query.Where("peer_id = ?", peer.Marshal())
	}

	var results []*Message
	if err := query.Order("id").Find(&results).Error; err != nil {
		return nil, errors.Errorf("failed to list %s messages: %+v", status, err)
	}
	return results, nil
}

func (s *sqlStore) Messages(owner, peer *id.ID) ([]*Message, error) {
	ctx, cancel := newContext()
	defer cancel()

	var results []*Message
	err := s.db.WithContext(ctx).
		Where(ownerPeerClause+" AND type <> ?",
			owner.Marshal(), peer.Marshal(), KeepAlive).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, errors.Errorf("failed to list messages with %s: %+v",
			peer, err)
	}
	return results, nil
}

func (s *sqlStore) ResetSending(owner *id.ID, to MessageStatus) (int64, error) {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	ctx, cancel := newContext()
	defer cancel()

	updates := map[string]interface{}{"status": to}
	switch to {
	case Failed:
		updates["failure_reason"] = "interrupted before the transport confirmed"
	case WaitingSession:
		// Re-encrypted on the next attempt, under a new seeker
		updates["encrypted_payload"] = nil
		updates["seeker"] = nil
	}

	result := s.db.WithContext(ctx).Model(&Message{}).
		Where("owner_id = ? AND status = ?", owner.Marshal(), Sending).
		Updates(updates)
	if result.Error != nil {
		return 0, errors.Errorf("failed to reset sending messages: %+v",
			result.Error)
	}
	return result.RowsAffected, nil
}

func (s *sqlStore) InvalidatePayloads(owner, peer *id.ID) (int64, error) {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	ctx, cancel := newContext()
	defer cancel()

	result := s.db.WithContext(ctx).Model(&Message{}).
		Where(ownerPeerClause+" AND direction = ? AND status IN ?",
			owner.Marshal(), peer.Marshal(), Outgoing,
			[]MessageStatus{WaitingSession, Failed}).
		Update("encrypted_payload", nil)
	if result.Error != nil {
		return 0, errors.Errorf("failed to invalidate cached payloads: %+v",
			result.Error)
	}
	return result.RowsAffected, nil
}

func (s *sqlStore) AcknowledgeSeekers(owner *id.ID, seekers [][]byte) (int64, error) {
	if len(seekers) == 0 {
		return 0, nil
	}

	s.rmw.Lock()
	defer s.rmw.Unlock()

	ctx, cancel := newContext()
	defer cancel()

	result := s.db.WithContext(ctx).Model(&Message{}).
		Where("owner_id = ? AND direction = ? AND status = ? AND seeker IN ?",
			owner.Marshal(), Outgoing, Sent, seekers).
		Update("status", Delivered)
	if result.Error != nil {
		return 0, errors.Errorf("failed to acknowledge messages: %+v",
			result.Error)
	}
	return result.RowsAffected, nil
}

func (s *sqlStore) MarkIncomingRead(owner, peer *id.ID) (int64, error) {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	ctx, cancel := newContext()
	defer cancel()

	result := s.db.WithContext(ctx).Model(&Message{}).
		Where(ownerPeerClause+" AND direction = ? AND status = ?",
			owner.Marshal(), peer.Marshal(), Incoming, Delivered).
		Update("status", Read)
	if result.Error != nil {
		return 0, errors.Errorf("failed to mark messages read: %+v",
			result.Error)
	}
	return result.RowsAffected, nil
}
