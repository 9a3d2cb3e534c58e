// 文件: pkg/audit/model.go
// 结算审计日志 - 数据模型
//
// 只增不改: 每次提交成功的结算恰好写一行，
// 与状态翻转、余额入账同一个事务。行一旦写入永不更新/删除。

package audit

import "time"

// Entry 结算审计记录
// AdminID 为 null 表示自动结算 (到期扫描)，非 null 表示管理员人工裁定
type Entry struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	WagerID int64 `gorm:"column:wager_id;index"`

	Outcome    string `gorm:"column:outcome;type:varchar(8)"` // WIN / LOSS
	FinalPrice int64  `gorm:"column:final_price"`
	Rationale  string `gorm:"column:rationale;type:text"`

	AdminID          *int64  `gorm:"column:admin_id"`
	SupportingDocURL *string `gorm:"column:supporting_doc_url;type:varchar(512)"`

	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Entry) TableName() string {
	return "settlement_audit_logs"
}

// IsAutomatic 是否自动结算
func (e *Entry) IsAutomatic() bool {
	return e.AdminID == nil
}
