package httpserver

import (
	"strings"

	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
)

type positionBody struct {
	X *float64 `json:"x" validate:"required"`
	Y *float64 `json:"y" validate:"required"`
}

type sizeBody struct {
	Width  *float64 `json:"width" validate:"required,gt=0"`
	Height *float64 `json:"height" validate:"required,gt=0"`
}

// overlayBody is the create/update payload. "kind" is accepted as an alias
// of "type"; unknown fields are ignored.
type overlayBody struct {
	Type     *string       `json:"type" validate:"omitempty,oneof=text image"`
	Kind     *string       `json:"kind" validate:"omitempty,oneof=text image"`
	Content  *string       `json:"content" validate:"omitempty,max=65536"`
	Position *positionBody `json:"position"`
	Size     *sizeBody     `json:"size"`
}

func (b *overlayBody) kind() *domain.OverlayKind {
	raw := b.Type
	if raw == nil {
		raw = b.Kind
	}
	if raw == nil {
		return nil
	}
	k := domain.OverlayKind(*raw)
	return &k
}

func (b *overlayBody) position() *domain.Position {
	if b.Position == nil {
		return nil
	}
	return &domain.Position{X: *b.Position.X, Y: *b.Position.Y}
}

func (b *overlayBody) size() *domain.Size {
	if b.Size == nil {
		return nil
	}
	return &domain.Size{Width: *b.Size.Width, Height: *b.Size.Height}
}

func (b *overlayBody) toFields() domain.OverlayFields {
	f := domain.OverlayFields{
		Kind:     b.kind(),
		Position: b.position(),
		Size:     b.size(),
	}
	if b.Content != nil {
		f.Content = *b.Content
	}
	return f
}

func (b *overlayBody) toPatch() domain.OverlayPatch {
	return domain.OverlayPatch{
		Kind:     b.kind(),
		Content:  b.Content,
		Position: b.position(),
		Size:     b.size(),
	}
}

// settingsBody accepts both the camelCase and the snake_case spelling.
type settingsBody struct {
	RTSPURL       *string `json:"rtspUrl" validate:"omitempty,max=2048"`
	LegacyRTSPURL *string `json:"rtsp_url" validate:"omitempty,max=2048"`
}

func (b *settingsBody) url() string {
	switch {
	case b.RTSPURL != nil:
		return strings.TrimSpace(*b.RTSPURL)
	case b.LegacyRTSPURL != nil:
		return strings.TrimSpace(*b.LegacyRTSPURL)
	default:
		return ""
	}
}
