// Package overlay draws the preview decorations: detection boxes, the alert
// banner and the status line.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/vigilcam/vigil/internal/detect"
	"github.com/vigilcam/vigil/internal/engine"
)

var (
	boxColor    = color.RGBA{R: 0, G: 200, B: 60, A: 255}
	alertColor  = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	textColor   = color.RGBA{R: 240, G: 240, B: 240, A: 255}
	shadowColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// Draw renders boxes and status onto m in place.
func Draw(m *gocv.Mat, st engine.Status) {
	for _, d := range st.Detections {
		drawDetection(m, d)
	}
	if st.AlertActive {
		drawBanner(m)
	}
	drawStatusLine(m, st)
}

func drawDetection(m *gocv.Mat, d detect.Detection) {
	gocv.Rectangle(m, d.Box, boxColor, 2)
	label := fmt.Sprintf("%s %.0f%%", d.Class, d.Confidence*100)
	org := image.Pt(d.Box.Min.X, d.Box.Min.Y-6)
	if org.Y < 14 {
		org.Y = d.Box.Min.Y + 16
	}
	gocv.PutText(m, label, org, gocv.FontHersheySimplex, 0.5, boxColor, 1)
}

func drawBanner(m *gocv.Mat) {
	w := m.Cols()
	gocv.Rectangle(m, image.Rect(0, 0, w, 28), alertColor, -1)
	gocv.PutText(m, "ALERT", image.Pt(8, 20), gocv.FontHersheySimplex, 0.6, textColor, 2)
}

func drawStatusLine(m *gocv.Mat, st engine.Status) {
	h := m.Rows()
	line := fmt.Sprintf("fps %.1f  thr %.2f", st.FPS, st.Threshold)
	if st.Paused {
		line += "  PAUSED"
	}
	if st.Recording {
		line += "  REC"
		gocv.Circle(m, image.Pt(m.Cols()-16, h-14), 6, alertColor, -1)
	}
	org := image.Pt(8, h-10)
	gocv.PutText(m, line, image.Pt(org.X+1, org.Y+1), gocv.FontHersheySimplex, 0.5, shadowColor, 2)
	gocv.PutText(m, line, org, gocv.FontHersheySimplex, 0.5, textColor, 1)
}
