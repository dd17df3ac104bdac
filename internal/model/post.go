package model

import "time"

const (
	MediaImage = "image"
	MediaVideo = "video"
)

// Post 动态。点赞数与评论数为冗余计数，只通过原子增减修改
type Post struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AuthorID     string    `json:"author_id" gorm:"type:varchar(36);index:idx_post_author;not null"`
	Content      string    `json:"content" gorm:"type:text"`
	MediaURL     string    `json:"media_url,omitempty" gorm:"type:text"`
	MediaType    string    `json:"media_type,omitempty" gorm:"type:varchar(16)"`
	Song         string    `json:"song,omitempty" gorm:"type:varchar(255)"`
	LikeCount    int64     `json:"like_count" gorm:"not null;default:0"`
	CommentCount int64     `json:"comment_count" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at" gorm:"index:idx_post_created"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Post) TableName() string { return "posts" }

// Like 点赞记录，(post_id, user_id) 唯一
type Like struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	PostID    string `gorm:"type:varchar(36);uniqueIndex:ux_like_post_user;not null"`
	UserID    string `gorm:"type:varchar(36);uniqueIndex:ux_like_post_user;index:idx_like_user;not null"`
	CreatedAt time.Time
}

func (Like) TableName() string { return "likes" }

// Comment 评论，只追加
type Comment struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PostID    string    `json:"post_id" gorm:"type:varchar(36);index:idx_comment_post;not null"`
	AuthorID  string    `json:"author_id" gorm:"type:varchar(36);index:idx_comment_author;not null"`
	Text      string    `json:"text" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Comment) TableName() string { return "comments" }
