package model

import "time"

// CollectionSnapshot stores the serialized form of one entity collection
// when collections are kept in the database.
type CollectionSnapshot struct {
	Name      string    `gorm:"primaryKey;size:64"`
	Body      []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// QuarantinedSnapshot keeps unparseable collection content for operators.
type QuarantinedSnapshot struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Name       string    `gorm:"index;size:64;not null"`
	Body       []byte    `gorm:"not null"`
	DetectedAt time.Time `gorm:"not null"`
}
