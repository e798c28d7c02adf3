package schemas

import "time"

// Cookie is a single browser cookie captured from an authenticated context.
// The field set mirrors Playwright's storage-state format so that snapshot
// files can be fed to the downstream export service unchanged.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// LocalStorageItem is one key/value pair of an origin's localStorage.
type LocalStorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OriginState holds the localStorage contents for a single origin.
type OriginState struct {
	Origin       string             `json:"origin"`
	LocalStorage []LocalStorageItem `json:"localStorage"`
}

// StorageState is the serialized authentication material of one session:
// cookies plus per-origin storage. It is the sole durable record of a
// session once its browser context is closed, and must be sufficient to
// reconstruct an equivalent authenticated context.
type StorageState struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins"`
}

// TicketStatus is the lifecycle state of an asynchronously queued job.
type TicketStatus string

const (
	TicketQueued TicketStatus = "queued"
	TicketDone   TicketStatus = "done"
	TicketError  TicketStatus = "error"
)

// Terminal reports whether the status is final.
func (s TicketStatus) Terminal() bool {
	return s == TicketDone || s == TicketError
}

// Ticket is the pollable handle for a queued unit of work. A ticket
// transitions exactly once, from queued to a terminal state.
type Ticket struct {
	ID         string       `json:"ticket_id"`
	Status     TicketStatus `json:"status"`
	Result     any          `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}
