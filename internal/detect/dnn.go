package detect

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/vigilcam/vigil/internal/config"
	"github.com/vigilcam/vigil/internal/frame"
	"github.com/vigilcam/vigil/internal/imgconv"
)

// DNNDetector runs a YOLO-family ONNX model through the OpenCV DNN module.
// It holds no per-frame state, satisfying the stateless Detector contract.
type DNNDetector struct {
	net       gocv.Net
	inputSize int
	iou       float64
}

// NewDNNDetector loads the ONNX model and selects the compute backend.
func NewDNNDetector(cfg config.DetectConfig) (*DNNDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("detect: model %s: %w", cfg.ModelPath, err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("detect: failed to load model %s", cfg.ModelPath)
	}

	switch cfg.Backend {
	case "cuda":
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	case "openvino":
		net.SetPreferableBackend(gocv.NetBackendOpenVINO)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	default:
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	return &DNNDetector{
		net:       net,
		inputSize: cfg.InputSize,
		iou:       cfg.IOU,
	}, nil
}

// Infer runs one frame through the network and returns detections at or above
// threshold, non-maximum-suppressed by the configured IOU.
func (d *DNNDetector) Infer(f *frame.Frame, threshold float64) (Result, error) {
	if f == nil || f.Image == nil {
		return nil, ErrDecode
	}
	bounds := f.Bounds()
	if bounds.Empty() {
		return nil, ErrDecode
	}

	mat, err := imgconv.ToMat(f.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0,
		image.Pt(d.inputSize, d.inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	return d.decode(out, bounds, threshold)
}

// decode parses a YOLOv8-style output tensor (1 x (4+classes) x candidates).
func (d *DNNDetector) decode(out gocv.Mat, bounds image.Rectangle, threshold float64) (Result, error) {
	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("detect: unexpected output shape %v", dims)
	}
	channels := dims[1]
	candidates := dims[2]
	if channels <= 4 {
		return nil, fmt.Errorf("detect: unexpected output shape %v", dims)
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("detect: read output tensor: %w", err)
	}
	at := func(c, i int) float32 { return data[c*candidates+i] }

	sx := float64(bounds.Dx()) / float64(d.inputSize)
	sy := float64(bounds.Dy()) / float64(d.inputSize)

	var boxes []image.Rectangle
	var scores []float32
	var classes []Class

	for i := 0; i < candidates; i++ {
		bestScore := float32(0)
		bestClass := -1
		for c := 4; c < channels; c++ {
			if s := at(c, i); s > bestScore {
				bestScore = s
				bestClass = c - 4
			}
		}
		if float64(bestScore) < threshold {
			continue
		}
		cls := ClassFromCOCO(bestClass)
		if cls == ClassUnknown {
			continue
		}

		cx, cy := float64(at(0, i)), float64(at(1, i))
		w, h := float64(at(2, i)), float64(at(3, i))
		box := image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		).Intersect(bounds)
		if box.Empty() {
			continue
		}

		boxes = append(boxes, box)
		scores = append(scores, bestScore)
		classes = append(classes, cls)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores, float32(threshold), float32(d.iou))
	result := make(Result, 0, len(keep))
	for _, idx := range keep {
		result = append(result, Detection{
			Class:      classes[idx],
			Confidence: float64(scores[idx]),
			Box:        boxes[idx],
		})
	}
	return result, nil
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	return d.net.Close()
}
