// internal/model/recipient.go
package model

type Recipient struct {
	ID     string `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Email  string `db:"email" json:"email"`
	Course string `db:"course" json:"course"`
}
