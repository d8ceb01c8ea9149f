package model

// QuotaProfile は外部アカウントサービス上のプロフィールスナップショット。
// 残高の正ではなく、常にリモートから再取得可能なキャッシュ対象。
type QuotaProfile struct {
	ID               int64
	Username         string
	ExternalID       string // 外部IdPユーザーIDとの紐付け
	ExternalUsername string
	Quota            int64 // 付与済み総量（最小会計単位）
	UsedQuota        int64 // 消費済み量（最小会計単位）
}

// AvailableUnits は利用可能残高（付与総量 - 消費量）を最小会計単位で返す。
func (p *QuotaProfile) AvailableUnits() int64 {
	return p.Quota - p.UsedQuota
}
