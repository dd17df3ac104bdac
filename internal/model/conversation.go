package model

import "time"

// Conversation 私信会话。ID 由排序后的参与者对确定性生成，参与者按字典序存放
type Conversation struct {
	ID              string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserAID         string     `json:"user_a_id" gorm:"type:varchar(36);index:idx_conv_user_a;not null"`
	UserBID         string     `json:"user_b_id" gorm:"type:varchar(36);index:idx_conv_user_b;not null"`
	LastMessageID   *string    `json:"last_message_id,omitempty" gorm:"type:varchar(36)"`
	LastMessageText string     `json:"last_message_text,omitempty" gorm:"type:text"`
	LastSenderID    string     `json:"last_sender_id,omitempty" gorm:"type:varchar(36)"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	ActivityAt      time.Time  `json:"activity_at" gorm:"index"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (Conversation) TableName() string { return "conversations" }

// Other 返回会话中另一位参与者
func (c *Conversation) Other(userID string) string {
	if c.UserAID == userID {
		return c.UserBID
	}
	return c.UserAID
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// Message 私信消息，只追加
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(36);index:idx_msg_conv_created;not null"`
	SenderID       string    `json:"sender_id" gorm:"type:varchar(36);index;not null"`
	Text           string    `json:"text" gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"index:idx_msg_conv_created"`
}

func (Message) TableName() string { return "messages" }
