package models

import "time"

type User struct {
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	IsTotem   bool      `json:"is_totem"`
	CreatedAt time.Time `json:"created_at"`
}

type VerificationCode struct {
	CodeID    int64
	Phone     string
	CodeHash  string
	ExpiresAt time.Time
}
