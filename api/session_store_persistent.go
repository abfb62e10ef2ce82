package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmcleod/wordvault/internal/util"
	"github.com/jmcleod/wordvault/storage"
)

const (
	sessionNamespace      = "__sessions"
	sessionRecordType     = "session"
	sessionKeyType        = "session_key"
	sessionKeyID          = "current"
	sessionAADPrefix      = "session:"
	sessionKeyWrappingAAD = "wordvault:session_master_key:v1"
	cleanupInterval       = 5 * time.Minute
)

// PersistentSessionStore stores sessions in a storage.Repository, encrypted
// at rest using AES-256-GCM. Sessions survive server restarts.
//
// The session encryption key is itself sealed with an externally-provided
// wrapping key before being stored, so a repository compromise alone cannot
// recover session data.
type PersistentSessionStore struct {
	repo        storage.Repository
	key         []byte
	wrappingKey []byte
	idleTimeout time.Duration
	stopOnce    sync.Once
	stopCh      chan struct{}
}

var _ SessionStore = (*PersistentSessionStore)(nil)

// NewPersistentSessionStore creates a session store backed by repo. The
// 32-byte wrappingKey seals the session encryption key and is never stored.
// idleTimeout of 0 disables idle timeout checking.
func NewPersistentSessionStore(repo storage.Repository, idleTimeout time.Duration, wrappingKey []byte) (*PersistentSessionStore, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("wrapping key must be exactly %d bytes, got %d", util.AESKeySize, len(wrappingKey))
	}
	wk := util.CopyBytes(wrappingKey)

	key, err := loadOrCreateSessionKey(repo, wk)
	if err != nil {
		util.WipeBytes(wk)
		return nil, err
	}
	s := &PersistentSessionStore{
		repo:        repo,
		key:         key,
		wrappingKey: wk,
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Close stops the background cleanup goroutine and wipes key material.
func (s *PersistentSessionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		util.WipeBytes(s.key)
		util.WipeBytes(s.wrappingKey)
	})
}

func (s *PersistentSessionStore) open(token string) (AuthSession, error) {
	rec, err := s.repo.Get(sessionNamespace, sessionRecordType, token)
	if err != nil {
		return AuthSession{}, err
	}
	data, err := util.DecryptAESWithAAD(rec.Data, s.key, []byte(sessionAADPrefix+token))
	if err != nil {
		return AuthSession{}, err
	}
	defer util.WipeBytes(data)
	var session AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return AuthSession{}, err
	}
	return session, nil
}

func (s *PersistentSessionStore) Get(token string) (AuthSession, bool) {
	session, err := s.open(token)
	if err != nil {
		return AuthSession{}, false
	}
	if session.expired(time.Now(), s.idleTimeout) {
		s.Delete(token)
		return AuthSession{}, false
	}
	return session, true
}

func (s *PersistentSessionStore) Put(token string, session AuthSession) {
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	defer util.WipeBytes(data)
	sealed, err := util.EncryptAESWithAAD(data, s.key, []byte(sessionAADPrefix+token))
	if err != nil {
		return
	}
	_ = s.repo.Put(sessionNamespace, sessionRecordType, token, &storage.Record{Version: 1, Data: sealed})
}

func (s *PersistentSessionStore) Delete(token string) {
	_ = s.repo.Delete(sessionNamespace, sessionRecordType, token)
}

func (s *PersistentSessionStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// sweepExpired removes expired, idle and unreadable sessions.
func (s *PersistentSessionStore) sweepExpired() {
	tokens, err := s.repo.List(sessionNamespace, sessionRecordType)
	if err != nil {
		return
	}
	now := time.Now()
	for _, token := range tokens {
		session, err := s.open(token)
		if err != nil || session.expired(now, s.idleTimeout) {
			_ = s.repo.Delete(sessionNamespace, sessionRecordType, token)
		}
	}
}

// loadOrCreateSessionKey unseals the stored session key with wrappingKey.
// If none exists, or the wrapping key changed, a new key is generated and
// persisted; sessions sealed under the old key become unreadable.
func loadOrCreateSessionKey(repo storage.Repository, wrappingKey []byte) ([]byte, error) {
	aad := []byte(sessionKeyWrappingAAD)

	rec, err := repo.Get(sessionNamespace, sessionKeyType, sessionKeyID)
	if err == nil {
		key, openErr := util.DecryptAESWithAAD(rec.Data, wrappingKey, aad)
		if openErr == nil && len(key) == util.AESKeySize {
			return key, nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrNamespaceNotFound) {
		return nil, err
	}

	key, err := util.RandomBytes(util.AESKeySize)
	if err != nil {
		return nil, err
	}
	sealed, err := util.EncryptAESWithAAD(key, wrappingKey, aad)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing new session key: %w", err)
	}
	if err := repo.Put(sessionNamespace, sessionKeyType, sessionKeyID, &storage.Record{Version: 1, Data: sealed}); err != nil {
		util.WipeBytes(key)
		return nil, err
	}
	return key, nil
}
