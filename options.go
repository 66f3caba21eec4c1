package mongoplay

import (
	"log/slog"
	"time"
)

// Options configure a Catalog. The zero value is usable.
type Options struct {
	// Logger receives operation logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Verbose logs every insert, update, remove and plan choice at Debug
	// level.
	Verbose bool

	// OnChange is called for every committed Change, before subscribers
	// registered with Subscribe.
	OnChange func(Change)

	// Now is the clock used for generated identities. Defaults to time.Now.
	Now func() time.Time
}
