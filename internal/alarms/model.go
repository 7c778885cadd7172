package alarms

import (
	"image"
	"time"
)

// BoundingBox is an axis-aligned rectangle in source-frame pixels.
type BoundingBox struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Valid reports whether the box has positive width and height.
func (b BoundingBox) Valid() bool {
	return b.Left < b.Right && b.Top < b.Bottom
}

// Centroid returns the integer center of the box.
func (b BoundingBox) Centroid() (x, y int) {
	return (b.Left + b.Right) / 2, (b.Top + b.Bottom) / 2
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// BoxFromRect is the inverse of Rect.
func BoxFromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{Top: r.Min.Y, Left: r.Min.X, Right: r.Max.X, Bottom: r.Max.Y}
}

// Alarm is a persisted detection. Only OwnerID changes after creation.
type Alarm struct {
	ID          int64       `json:"id"`
	RaisedAt    time.Time   `json:"raised_at"`
	Box         BoundingBox `json:"bounding_box"`
	EvidenceRef string      `json:"evidence_ref"`
	OwnerID     int64       `json:"owner_id"`
}

// Disposition derives the alarm's status from its owner column.
func (a *Alarm) Disposition() Disposition {
	return DispositionOf(a.OwnerID)
}

// NewAlarm is the tuple submitted for insertion; the store assigns ID and RaisedAt.
type NewAlarm struct {
	Box         BoundingBox
	EvidenceRef string
}

// DispositionKind is the tag of a Disposition.
type DispositionKind string

const (
	Unprocessed DispositionKind = "unprocessed"
	Processed   DispositionKind = "processed"
)

// ParseDispositionKind accepts "unprocessed" and "processed".
func ParseDispositionKind(s string) (DispositionKind, bool) {
	switch DispositionKind(s) {
	case Unprocessed:
		return Unprocessed, true
	case Processed:
		return Processed, true
	}
	return "", false
}

// Disposition is Unprocessed or ProcessedBy(OwnerID). The zero owner id is the
// storage encoding of Unprocessed and is only interpreted here.
type Disposition struct {
	Kind    DispositionKind `json:"kind"`
	OwnerID int64           `json:"owner_id,omitempty"`
}

// DispositionOf decodes the stored owner column.
func DispositionOf(ownerID int64) Disposition {
	if ownerID == 0 {
		return Disposition{Kind: Unprocessed}
	}
	return Disposition{Kind: Processed, OwnerID: ownerID}
}

func (d Disposition) IsProcessed() bool { return d.Kind == Processed }

// Candidate is an unpersisted detection for one sampled frame.
type Candidate struct {
	Box  BoundingBox
	Area int
}

// Role is the binary capability claim carried by a credential.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole rejects anything other than user/admin.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Principal is the authenticated caller of a core operation.
type Principal struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}
