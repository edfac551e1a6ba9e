// Package locker はキー単位の排他制御を提供する。
// アカウントごとの読み込み・変更・書き込みを直列化するために使う。
package locker

import "sync"

// KeyedMutex はキーごとに独立したミューテックスを提供する。
// 使われていないキーのエントリは参照カウントが0になった時点で破棄される。
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New はKeyedMutexを生成する。
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock はkeyのロックを取得し、解放関数を返す。
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len は現在保持しているキー数を返す。テスト用。
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
