// Package profilecache はDoneHubプロファイルのプロセス内キャッシュを提供する。
// リモートAPIへの問い合わせ頻度を抑えつつ、TTL切れや
// 別アカウントへの紐付け変更を検出して古いスナップショットを破棄する。
package profilecache

import (
	"sync"
	"time"

	"github.com/hitoshi/luckywheel/internal/model"
)

// entry はキャッシュされたプロファイルと取得時刻の組。
type entry struct {
	profile   *model.QuotaProfile
	fetchedAt time.Time
}

// Cache はユーザーIDをキーとするプロファイルキャッシュ。
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time // テスト用に差し替え可能
}

// New はCacheを生成する。
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get はTTL内の新鮮なプロファイルを返す。
// キャッシュが存在しない、期限切れ、または外部IDが一致しない場合はnilを返す。
// 外部ID不一致は紐付け先アカウントの変更を意味するためエントリを破棄する。
func (c *Cache) Get(userID, externalID string) *model.QuotaProfile {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	if e.profile.ExternalID != externalID {
		c.Delete(userID)
		return nil
	}

	if c.now().Sub(e.fetchedAt) > c.ttl {
		return nil
	}

	return e.profile
}

// GetStale は期限切れを問わずキャッシュ済みプロファイルとその経過時間を返す。
// リモートAPI障害時のフォールバック表示に使用される。
func (c *Cache) GetStale(userID, externalID string) (*model.QuotaProfile, time.Duration) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || e.profile.ExternalID != externalID {
		return nil, 0
	}
	return e.profile, c.now().Sub(e.fetchedAt)
}

// Put はプロファイルをキャッシュする。nilを渡すとエントリを削除する。
func (c *Cache) Put(userID string, profile *model.QuotaProfile) {
	if profile == nil {
		c.Delete(userID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = entry{profile: profile, fetchedAt: c.now()}
}

// Delete はエントリを削除する。
func (c *Cache) Delete(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}
