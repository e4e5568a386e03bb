package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

// Skeleton selects which edges are drawn
type Skeleton int

const (
	// SkeletonSimple draws torso, arms and legs
	SkeletonSimple Skeleton = iota
	// SkeletonFull adds face, hand and foot edges
	SkeletonFull
)

func (s Skeleton) String() string {
	if s == SkeletonFull {
		return "full"
	}
	return "simple"
}

// ParseSkeleton parses "simple" or "full"; empty means simple
func ParseSkeleton(s string) (Skeleton, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "simple":
		return SkeletonSimple, nil
	case "full":
		return SkeletonFull, nil
	default:
		return 0, fmt.Errorf("unknown skeleton: %q", s)
	}
}

// Connections returns the edge table for the skeleton
func (s Skeleton) Connections() []pose.Connection {
	if s == SkeletonFull {
		return pose.FullConnections
	}
	return pose.Connections
}

// Style holds the drawing parameters, in surface pixels
type Style struct {
	LandmarkRadius  float64
	JointRadius     float64
	ConnectionWidth float64
	BorderWidth     float64
	// ShadowOffset shifts landmark shadows down and right
	ShadowOffset float64

	Connection color.RGBA
	Border     color.RGBA
	Shadow     color.RGBA
	Regions    map[pose.Region]color.RGBA
}

// DefaultStyle returns the standard rigging palette
func DefaultStyle() Style {
	return Style{
		LandmarkRadius:  8,
		JointRadius:     12,
		ConnectionWidth: 4,
		BorderWidth:     3,
		ShadowOffset:    2,
		Connection:      color.RGBA{255, 255, 255, 255},
		Border:          color.RGBA{204, 204, 204, 204}, // white at 80%, premultiplied
		Shadow:          color.RGBA{0, 0, 0, 128},
		Regions: map[pose.Region]color.RGBA{
			pose.RegionFace:     {255, 235, 59, 255},
			pose.RegionTorso:    {33, 150, 243, 255},
			pose.RegionLeftArm:  {76, 175, 80, 255},
			pose.RegionRightArm: {244, 67, 54, 255},
			pose.RegionLeftLeg:  {156, 39, 176, 255},
			pose.RegionRightLeg: {255, 152, 0, 255},
			pose.RegionOther:    {158, 158, 158, 255},
		},
	}
}

// RegionColor returns the fill color for a landmark
func (s Style) RegionColor(t pose.LandmarkType) color.RGBA {
	if c, ok := s.Regions[pose.RegionOf(t)]; ok {
		return c
	}
	return s.Regions[pose.RegionOther]
}

// SkeletonWidget draws connections and then landmarks of the current result
type SkeletonWidget struct {
	*BaseWidget
	skeleton Skeleton
	style    Style
}

// NewSkeletonWidget creates the pose layer
func NewSkeletonWidget(id string, skeleton Skeleton, style Style) *SkeletonWidget {
	return &SkeletonWidget{BaseWidget: NewBaseWidget(id), skeleton: skeleton, style: style}
}

// Render draws the pose. Edges go first so landmarks sit on top.
func (w *SkeletonWidget) Render(dst *image.RGBA, frame *Frame) error {
	if frame.Result == nil || len(frame.Result.Landmarks) == 0 || frame.Mapping.Empty() {
		return nil
	}
	lms := frame.Result.Landmarks
	p := newPen(dst)
	st := w.style

	for _, c := range w.skeleton.Connections() {
		if int(c.A) >= len(lms) || int(c.B) >= len(lms) {
			continue
		}
		x0, y0 := frame.Mapping.Map(float64(lms[c.A].X), float64(lms[c.A].Y))
		x1, y1 := frame.Mapping.Map(float64(lms[c.B].X), float64(lms[c.B].Y))
		p.Line(x0, y0, x1, y1, st.ConnectionWidth+3, st.Shadow)
		p.Line(x0, y0, x1, y1, st.ConnectionWidth, st.Connection)
	}

	for i, lm := range lms {
		t := pose.LandmarkType(i)
		if !t.Valid() {
			break
		}
		x, y := frame.Mapping.Map(float64(lm.X), float64(lm.Y))
		radius := st.LandmarkRadius
		if pose.IsJoint(t) {
			radius = st.JointRadius
		}
		p.FillCircle(x+st.ShadowOffset, y+st.ShadowOffset, radius, st.Shadow)
		p.FillCircle(x, y, radius, st.RegionColor(t))
		p.StrokeCircle(x, y, radius, st.BorderWidth, st.Border)
	}
	return nil
}
