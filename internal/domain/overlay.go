package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OverlayKind is the variant of content an overlay renders.
type OverlayKind string

const (
	OverlayKindText  OverlayKind = "text"
	OverlayKindImage OverlayKind = "image"
)

// ParseOverlayKind converts a string to an OverlayKind.
func ParseOverlayKind(s string) (OverlayKind, error) {
	switch OverlayKind(s) {
	case OverlayKindText:
		return OverlayKindText, nil
	case OverlayKindImage:
		return OverlayKindImage, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidOverlay, s)
	}
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate rejects non-positive dimensions.
func (s Size) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: width and height must be positive", ErrInvalidOverlay)
	}
	return nil
}

var (
	DefaultPosition = Position{X: 0, Y: 0}
	DefaultSize     = Size{Width: 200, Height: 50}
)

type Overlay struct {
	ID        uuid.UUID   `json:"id"`
	StreamID  string      `json:"streamId"`
	Kind      OverlayKind `json:"type"`
	Content   string      `json:"content"`
	Position  Position    `json:"position"`
	Size      Size        `json:"size"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// OverlayFields carries the values for a new overlay. Nil fields take defaults.
type OverlayFields struct {
	Kind     *OverlayKind
	Content  string
	Position *Position
	Size     *Size
}

// WithDefaults resolves omitted fields and validates the result.
func (f OverlayFields) WithDefaults() (OverlayKind, Position, Size, error) {
	kind := OverlayKindText
	if f.Kind != nil {
		kind = *f.Kind
	}
	pos := DefaultPosition
	if f.Position != nil {
		pos = *f.Position
	}
	size := DefaultSize
	if f.Size != nil {
		size = *f.Size
	}
	if _, err := ParseOverlayKind(string(kind)); err != nil {
		return "", Position{}, Size{}, err
	}
	if err := size.Validate(); err != nil {
		return "", Position{}, Size{}, err
	}
	return kind, pos, size, nil
}

// OverlayPatch is a partial update. Only non-nil fields are applied.
type OverlayPatch struct {
	Kind     *OverlayKind
	Content  *string
	Position *Position
	Size     *Size
}

func (p OverlayPatch) Validate() error {
	if p.Kind != nil {
		if _, err := ParseOverlayKind(string(*p.Kind)); err != nil {
			return err
		}
	}
	if p.Size != nil {
		return p.Size.Validate()
	}
	return nil
}

// ParseOverlayID validates an overlay identifier before it reaches the store.
func ParseOverlayID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q is not a valid overlay id", ErrInvalidIdentifier, s)
	}
	return id, nil
}

// OverlayRepository is the typed contract of the overlay document store.
type OverlayRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Overlay, error)
	List(ctx context.Context) ([]Overlay, error)
	ListByStream(ctx context.Context, streamID string) ([]Overlay, error)
	Create(ctx context.Context, streamID string, fields OverlayFields) (*Overlay, error)
	Update(ctx context.Context, id uuid.UUID, patch OverlayPatch) (*Overlay, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
