package models

type Question struct {
	ID       uint     `gorm:"primaryKey" json:"id"`
	Topic    string   `gorm:"size:100;index" json:"topic"`
	Text     string   `gorm:"type:text;not null" json:"text"`
	OrderNum int      `gorm:"not null;default:0" json:"order_num"`
	Options  []Option `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
}
