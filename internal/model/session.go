package model

import "time"

// Session はログインで発行されるセッション。
// 有効期限はLoginAtからの固定長で判定し、LastAccessAtでは延長しない。
type Session struct {
	ID           string
	Handle       string
	LoginAt      time.Time
	LastAccessAt time.Time
	ClientIP     string
	UserAgent    string
}

// ExpiresAt は固定TTLにおける失効時刻を返す。
func (s *Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.LoginAt.Add(ttl)
}

// ExpiryStatus はレンタル期限の判定結果。
type ExpiryStatus struct {
	IsExpired bool `json:"is_expired"`
	DaysLeft  int  `json:"days_left"`
}
