package grounding

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/labelkit/model-server/pkg/inference"
)

const (
	beginOfBox = "<|begin_of_box|>"
	endOfBox   = "<|end_of_box|>"
)

var labelledBoxes = regexp.MustCompile(`(?s)\[\s*\{[^}]*"label"[^}]*"bbox_2d"[^}]*\}(?:\s*,\s*\{[^}]*"label"[^}]*"bbox_2d"[^}]*\})*\s*\]`)

// box is one detection as emitted by the model.
type box struct {
	Label string    `json:"label"`
	BBox  []float64 `json:"bbox_2d"`
}

// extractJSON isolates the JSON payload in a free-form model response.
func extractJSON(response string) string {
	begin := strings.Index(response, beginOfBox)
	end := strings.Index(response, endOfBox)
	if begin != -1 && end != -1 && end > begin {
		return strings.TrimSpace(response[begin+len(beginOfBox) : end])
	}

	if m := labelledBoxes.FindString(response); m != "" {
		return m
	}

	if start := strings.Index(response, "["); start != -1 {
		if stop := strings.LastIndex(response, "]"); stop > start {
			if candidate := response[start : stop+1]; json.Valid([]byte(candidate)) {
				return candidate
			}
		}
		// Likely cut off by the token limit; decodeBoxes repairs it.
		return strings.TrimSpace(response[start:])
	}
	return strings.TrimSpace(response)
}

// stripFences returns the body of the first ```json block, if any.
func stripFences(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "```json" {
			body := strings.Join(lines[i+1:], "\n")
			body, _, _ = strings.Cut(body, "```")
			return body
		}
	}
	return s
}

// decodeBoxes decodes a single box or a list of boxes. A list cut off by the
// token limit is repaired by closing it after the last complete object.
func decodeBoxes(s string) ([]box, bool) {
	if boxes, ok := unmarshalBoxes(s); ok {
		return boxes, true
	}
	idx := strings.LastIndex(s, "}")
	if idx == -1 || !strings.HasPrefix(strings.TrimSpace(s), "[") {
		return nil, false
	}
	return unmarshalBoxes(s[:idx+1] + "]")
}

func unmarshalBoxes(s string) ([]box, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		var single json.RawMessage
		if err := json.Unmarshal([]byte(s), &single); err != nil {
			return nil, false
		}
		items = []json.RawMessage{single}
	}
	boxes := make([]box, 0, len(items))
	for _, item := range items {
		var b box
		if err := json.Unmarshal(item, &b); err != nil {
			continue
		}
		boxes = append(boxes, b)
	}
	return boxes, true
}

// parseGrounding converts a grounding response into rectangles in pixel
// space. Coordinates are normalized to scale on both axes.
func parseGrounding(response string, width, height int, scale float64) []inference.Shape {
	payload := stripFences(extractJSON(response))
	boxes, ok := decodeBoxes(payload)
	if !ok {
		return []inference.Shape{}
	}

	shapes := make([]inference.Shape, 0, len(boxes))
	for _, b := range boxes {
		if len(b.BBox) != 4 {
			continue
		}
		label := b.Label
		if label == "" {
			label = "object"
		}
		x1 := math.Trunc(b.BBox[0] / scale * float64(width))
		y1 := math.Trunc(b.BBox[1] / scale * float64(height))
		x2 := math.Trunc(b.BBox[2] / scale * float64(width))
		y2 := math.Trunc(b.BBox[3] / scale * float64(height))

		s, err := inference.NewShape(label, inference.ShapeRectangle, inference.Rectangle(x1, y1, x2, y2))
		if err != nil {
			continue
		}
		shapes = append(shapes, s)
	}
	return shapes
}

// categories splits a text prompt such as "cat. dog." into its class names.
func categories(prompt string) []string {
	var out []string
	for _, c := range strings.Split(prompt, ".") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
