package annotate

import (
	"fmt"
	"time"

	// Embedded zone database so labels do not depend on the host's tzdata.
	_ "time/tzdata"
)

// Labeler renders wall-clock instants as the overlay text in a fixed zone.
type Labeler struct {
	loc    *time.Location
	layout string
}

// NewLabeler resolves zone (an IANA name such as "Europe/Athens") and keeps
// layout as the time.Format layout for every label.
func NewLabeler(zone, layout string) (*Labeler, error) {
	if layout == "" {
		return nil, fmt.Errorf("label layout is required")
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	return &Labeler{loc: loc, layout: layout}, nil
}

// Label formats t in the labeler's zone.
func (l *Labeler) Label(t time.Time) string {
	return t.In(l.loc).Format(l.layout)
}

// Location returns the zone labels are rendered in.
func (l *Labeler) Location() *time.Location {
	return l.loc
}
