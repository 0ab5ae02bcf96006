package dto

import (
	"time"

	"github.com/hitoshi/shelfmate/internal/model"
)

// User はユーザープロフィールのクライアント向け表現。
type User struct {
	ID             string    `json:"id" validate:"required"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	Genres         []string  `json:"genres"`
	CreatedAt      time.Time `json:"created_at"`
}

// FromUser はドメインのユーザーをDTOに変換する。
func FromUser(u *model.User) *User {
	return &User{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		ProfilePicture: u.ProfilePicture,
		Genres:         nonNil(u.Genres),
		CreatedAt:      u.CreatedAt,
	}
}

// UpdateProfileRequest は PUT /user/profile のリクエストボディ。
type UpdateProfileRequest struct {
	Name           string `json:"name,omitempty" validate:"max=100"`
	ProfilePicture string `json:"profile_picture,omitempty" validate:"omitempty,url"`
}

// GenresRequest はオンボーディングのジャンル選択。
type GenresRequest struct {
	Genres []string `json:"genres" validate:"required,min=1,max=20,dive,notblank,max=50"`
}

// SessionToken はログイン成功時にJSONで返すセッション情報。
type SessionToken struct {
	Token     string    `json:"token" validate:"required"`
	UserID    string    `json:"user_id" validate:"required"`
	ExpiresAt time.Time `json:"expires_at"`
}
