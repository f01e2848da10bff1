package inference

import (
	"fmt"
	"math"
)

// ShapeType enumerates the geometries a backend may return.
type ShapeType string

const (
	ShapePolygon       ShapeType = "polygon"
	ShapeRectangle     ShapeType = "rectangle"
	ShapeRotation      ShapeType = "rotation"
	ShapePoint         ShapeType = "point"
	ShapeLine          ShapeType = "line"
	ShapeCircle        ShapeType = "circle"
	ShapeLinestrip     ShapeType = "linestrip"
	ShapeQuadrilateral ShapeType = "quadrilateral"
)

// SupportedShapeTypes lists every valid ShapeType.
var SupportedShapeTypes = []ShapeType{
	ShapePolygon,
	ShapeRectangle,
	ShapeRotation,
	ShapePoint,
	ShapeLine,
	ShapeCircle,
	ShapeLinestrip,
	ShapeQuadrilateral,
}

// Valid reports whether t is one of SupportedShapeTypes.
func (t ShapeType) Valid() bool {
	for _, s := range SupportedShapeTypes {
		if s == t {
			return true
		}
	}
	return false
}

// MaxDirection is the upper bound of Shape.Direction in radians.
const MaxDirection = 2 * math.Pi

// Point is an (x, y) coordinate, encoded as a two-element JSON array.
type Point [2]float64

// Shape is one annotation produced by a prediction.
type Shape struct {
	Label       string         `json:"label"`
	ShapeType   ShapeType      `json:"shape_type"`
	Points      []Point        `json:"points"`
	Score       *float64       `json:"score"`
	Attributes  map[string]any `json:"attributes"`
	Description *string        `json:"description"`
	Difficult   bool           `json:"difficult"`
	Direction   float64        `json:"direction"`
	Flags       map[string]any `json:"flags"`
	GroupID     *int           `json:"group_id"`
	KIELinking  []any          `json:"kie_linking"`
}

// ShapeOption sets an optional Shape field.
type ShapeOption func(*Shape)

// WithScore sets the confidence score, which must lie in [0, 1].
func WithScore(score float64) ShapeOption {
	return func(s *Shape) { s.Score = &score }
}

// WithAttributes sets free-form attributes.
func WithAttributes(attrs map[string]any) ShapeOption {
	return func(s *Shape) { s.Attributes = attrs }
}

// WithDescription sets the shape description.
func WithDescription(desc string) ShapeOption {
	return func(s *Shape) { s.Description = &desc }
}

// WithDifficult marks the shape as difficult.
func WithDifficult(difficult bool) ShapeOption {
	return func(s *Shape) { s.Difficult = difficult }
}

// WithDirection sets the rotation in radians, within [0, 2π].
func WithDirection(radians float64) ShapeOption {
	return func(s *Shape) { s.Direction = radians }
}

// WithFlags sets the shape flags.
func WithFlags(flags map[string]any) ShapeOption {
	return func(s *Shape) { s.Flags = flags }
}

// WithGroupID sets the group id, which must be positive.
func WithGroupID(id int) ShapeOption {
	return func(s *Shape) { s.GroupID = &id }
}

// WithKIELinking sets key-information-extraction links.
func WithKIELinking(links ...any) ShapeOption {
	return func(s *Shape) { s.KIELinking = links }
}

// NewShape builds a validated shape. Out-of-range values fail construction;
// nothing is clamped.
func NewShape(label string, shapeType ShapeType, points []Point, opts ...ShapeOption) (Shape, error) {
	s := Shape{
		Label:     label,
		ShapeType: shapeType,
		Points:    points,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if err := s.Validate(); err != nil {
		return Shape{}, err
	}
	s.Normalize()
	return s, nil
}

// Validate checks the field constraints of a shape, including shapes decoded
// from JSON.
func (s *Shape) Validate() error {
	if !s.ShapeType.Valid() {
		return fmt.Errorf("%w: unsupported shape_type %q", ErrInvalidShape, s.ShapeType)
	}
	if s.Score != nil && !(*s.Score >= 0 && *s.Score <= 1) {
		return fmt.Errorf("%w: score must be between 0.0 and 1.0, got %v", ErrInvalidShape, *s.Score)
	}
	if !(s.Direction >= 0 && s.Direction <= MaxDirection) {
		return fmt.Errorf("%w: direction must be between 0 and 2π radians (0 to %v), got %v",
			ErrInvalidShape, MaxDirection, s.Direction)
	}
	if s.GroupID != nil && *s.GroupID <= 0 {
		return fmt.Errorf("%w: group_id must be a positive integer, got %d", ErrInvalidShape, *s.GroupID)
	}
	for i, p := range s.Points {
		for _, c := range p {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return fmt.Errorf("%w: point %d is not finite", ErrInvalidShape, i)
			}
		}
	}
	return nil
}

// Normalize replaces nil collections with empty ones so they encode as {}
// and [] rather than null.
func (s *Shape) Normalize() {
	if s.Points == nil {
		s.Points = []Point{}
	}
	if s.Attributes == nil {
		s.Attributes = map[string]any{}
	}
	if s.KIELinking == nil {
		s.KIELinking = []any{}
	}
}

// Rectangle returns the four corners of an axis-aligned box in clockwise
// order starting at the top-left corner.
func Rectangle(x1, y1, x2, y2 float64) []Point {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return []Point{{x1, y1}, {x2, y1}, {x2, y2}, {x1, y2}}
}
