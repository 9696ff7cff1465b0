package models

import (
	"time"

	"github.com/uptrace/bun"
)

type WaitlistEntry struct {
	Email    string   `json:"email"`
	Position int      `json:"waitlist_position"`
	Licenses []string `json:"licenses"`
}

type WaitlistEntryDB struct {
	bun.BaseModel `bun:"table:waitlist,alias:w"`

	Email            string    `bun:"email,pk" json:"email"`
	WaitlistPosition int       `bun:"waitlist_position,notnull" json:"waitlist_position"`
	Licenses         []string  `bun:"licenses,type:jsonb" json:"licenses"`
	CreatedAt        time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

func (w *WaitlistEntryDB) ToWaitlistEntry() *WaitlistEntry {
	return &WaitlistEntry{
		Email:    w.Email,
		Position: w.WaitlistPosition,
		Licenses: w.Licenses,
	}
}

func WaitlistEntryFromDomain(e *WaitlistEntry) *WaitlistEntryDB {
	return &WaitlistEntryDB{
		Email:            e.Email,
		WaitlistPosition: e.Position,
		Licenses:         e.Licenses,
	}
}
