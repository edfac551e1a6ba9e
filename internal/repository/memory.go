package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/donalert/internal/model"
)

// MemoryAccountRepo はプロセス内メモリにアカウントを保持するリポジトリ。
// DATABASE_DRIVER=memory とテストで使用する。
// 保存・取得時はJSON経由でコピーし、呼び出し側との共有を避ける。
type MemoryAccountRepo struct {
	mu       sync.Mutex
	accounts map[string][]byte
}

// NewMemoryAccountRepo は空のMemoryAccountRepoを生成する。
func NewMemoryAccountRepo() *MemoryAccountRepo {
	return &MemoryAccountRepo{accounts: make(map[string][]byte)}
}

func (r *MemoryAccountRepo) Create(ctx context.Context, acc *model.Account) error {
	doc, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[acc.Handle]; ok {
		return ErrAccountAlreadyExists
	}
	r.accounts[acc.Handle] = doc
	return nil
}

func (r *MemoryAccountRepo) FindByHandle(ctx context.Context, handle string) (*model.Account, error) {
	r.mu.Lock()
	doc, ok := r.accounts[handle]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeAccount(doc)
}

// Update は全アカウント共通のロックを保持したまま変更を適用する。
func (r *MemoryAccountRepo) Update(ctx context.Context, handle string, fn MutateFunc) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.accounts[handle]
	if !ok {
		return nil, ErrAccountNotFound
	}
	acc, err := decodeAccount(doc)
	if err != nil {
		return nil, err
	}
	if err := fn(acc); err != nil {
		return nil, err
	}
	updated, err := json.Marshal(acc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode account: %w", err)
	}
	r.accounts[handle] = updated
	return acc, nil
}

func (r *MemoryAccountRepo) Save(ctx context.Context, acc *model.Account) error {
	doc, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}
	r.mu.Lock()
	r.accounts[acc.Handle] = doc
	r.mu.Unlock()
	return nil
}

func (r *MemoryAccountRepo) Delete(ctx context.Context, handle string) error {
	r.mu.Lock()
	delete(r.accounts, handle)
	r.mu.Unlock()
	return nil
}

func (r *MemoryAccountRepo) ListHandles(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	handles := make([]string, 0, len(r.accounts))
	for h := range r.accounts {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	sort.Strings(handles)
	return handles, nil
}

// MemorySessionRepo はプロセス内メモリにセッションを保持するリポジトリ。
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
}

// NewMemorySessionRepo は空のMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[string]model.Session)}
}

func (r *MemorySessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	r.sessions[session.ID] = *session
	r.mu.Unlock()
	return nil
}

func (r *MemorySessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *MemorySessionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastAccessAt = at
		r.sessions[id] = s
	}
	return nil
}

func (r *MemorySessionRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

func (r *MemorySessionRepo) DeleteByHandle(ctx context.Context, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.Handle == handle {
			delete(r.sessions, id)
		}
	}
	return nil
}

// DeleteLoggedInBefore はcutoffより前にログインしたセッションを削除し、件数を返す。
func (r *MemorySessionRepo) DeleteLoggedInBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, s := range r.sessions {
		if s.LoginAt.Before(cutoff) {
			delete(r.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// MemoryAlertLogRepo はプロセス内メモリに配信ログを保持するリポジトリ。
type MemoryAlertLogRepo struct {
	mu   sync.Mutex
	logs map[string][]alertLogEntry
}

type alertLogEntry struct {
	alert        model.Alert
	dispatchedAt time.Time
}

// NewMemoryAlertLogRepo は空のMemoryAlertLogRepoを生成する。
func NewMemoryAlertLogRepo() *MemoryAlertLogRepo {
	return &MemoryAlertLogRepo{logs: make(map[string][]alertLogEntry)}
}

func (r *MemoryAlertLogRepo) Insert(ctx context.Context, handle string, alert model.Alert, dispatchedAt time.Time) error {
	r.mu.Lock()
	r.logs[handle] = append(r.logs[handle], alertLogEntry{alert: alert, dispatchedAt: dispatchedAt})
	r.mu.Unlock()
	return nil
}

func (r *MemoryAlertLogRepo) ListRecent(ctx context.Context, handle string, limit int) ([]model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logs := r.logs[handle]
	result := make([]model.Alert, 0, min(limit, len(logs)))
	for i := len(logs) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, logs[i].alert)
	}
	return result, nil
}

// DeleteDispatchedBefore はcutoffより前に配信した記録を削除し、件数を返す。
func (r *MemoryAlertLogRepo) DeleteDispatchedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for handle, logs := range r.logs {
		kept := logs[:0]
		for _, e := range logs {
			if e.dispatchedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(r.logs, handle)
		} else {
			r.logs[handle] = kept
		}
	}
	return deleted, nil
}

var (
	_ AccountRepository  = (*MemoryAccountRepo)(nil)
	_ SessionRepository  = (*MemorySessionRepo)(nil)
	_ AlertLogRepository = (*MemoryAlertLogRepo)(nil)
)
