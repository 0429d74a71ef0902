package domain

import "time"

// WriterKind which identity source produced a writer id
type WriterKind string

const (
	WriterAuthenticated WriterKind = "authenticated"
	WriterDemo          WriterKind = "demo"
	WriterAnonymous     WriterKind = "anonymous"
)

// WriterIdentity the id responses are recorded under
type WriterIdentity struct {
	Kind WriterKind `json:"kind"`
	ID   string     `json:"id"`
}

func (w WriterIdentity) String() string { return w.ID }

// IsAnonymous reports whether the id is a generated on-device id
func (w WriterIdentity) IsAnonymous() bool { return w.Kind == WriterAnonymous }

// DemoUser a built-in demo profile
type DemoUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

// Session a signed-in account persisted on-device
type Session struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now.
// A zero ExpiresAt never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// User account-shaped view of the current writer
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Demo      bool   `json:"demo"`
}
