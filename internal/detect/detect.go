// Package detect defines the detection model and the detector contract.
package detect

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/vigilcam/vigil/internal/frame"
)

// ErrDecode marks a frame the detector could not decode. The pipeline treats
// such a frame as "no detection this tick" rather than retrying it.
var ErrDecode = errors.New("detect: frame decode failed")

// Class is a closed enumeration of the object classes the engine recognizes.
type Class int

const (
	ClassUnknown Class = iota
	ClassPerson
	ClassBicycle
	ClassCar
	ClassMotorcycle
	ClassBus
	ClassTruck
	ClassCat
	ClassDog
)

var classNames = map[Class]string{
	ClassUnknown:    "unknown",
	ClassPerson:     "person",
	ClassBicycle:    "bicycle",
	ClassCar:        "car",
	ClassMotorcycle: "motorcycle",
	ClassBus:        "bus",
	ClassTruck:      "truck",
	ClassCat:        "cat",
	ClassDog:        "dog",
}

// COCO class IDs for the recognized subset.
var cocoIDs = map[int]Class{
	0:  ClassPerson,
	1:  ClassBicycle,
	2:  ClassCar,
	3:  ClassMotorcycle,
	5:  ClassBus,
	7:  ClassTruck,
	15: ClassCat,
	16: ClassDog,
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return "unknown"
}

// ParseClass maps a class name onto the enumeration.
func ParseClass(s string) (Class, error) {
	for c, name := range classNames {
		if strings.EqualFold(s, name) {
			return c, nil
		}
	}
	return ClassUnknown, fmt.Errorf("detect: unrecognized class %q", s)
}

// ClassFromCOCO maps a COCO class index onto the enumeration; unrecognized
// indices map to ClassUnknown.
func ClassFromCOCO(id int) Class {
	if c, ok := cocoIDs[id]; ok {
		return c
	}
	return ClassUnknown
}

// ClassSet is the set of classes that qualify as alert-worthy.
type ClassSet map[Class]struct{}

// NewClassSet builds a ClassSet from configured class names.
func NewClassSet(names []string) (ClassSet, error) {
	set := make(ClassSet, len(names))
	for _, n := range names {
		c, err := ParseClass(n)
		if err != nil {
			return nil, err
		}
		set[c] = struct{}{}
	}
	return set, nil
}

// Contains reports set membership.
func (s ClassSet) Contains(c Class) bool {
	_, ok := s[c]
	return ok
}

// Detection is one detected object in a frame. Detections live for exactly
// one pipeline tick unless captured by a TriggerEvent.
type Detection struct {
	Class      Class
	Confidence float64
	Box        image.Rectangle
}

func (d Detection) String() string {
	return fmt.Sprintf("%s %.0f%% %v", d.Class, d.Confidence*100, d.Box)
}

// Result is the ordered detection list for one frame; it may be empty.
type Result []Detection

// Qualifying returns the detections that belong to the class set and meet the
// threshold. The threshold is evaluated per call so a runtime adjustment takes
// effect on the very next tick.
func (r Result) Qualifying(set ClassSet, threshold float64) Result {
	var out Result
	for _, d := range r {
		if set.Contains(d.Class) && d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// Peak returns the highest confidence in the result, or 0 for an empty one.
func (r Result) Peak() float64 {
	var peak float64
	for _, d := range r {
		if d.Confidence > peak {
			peak = d.Confidence
		}
	}
	return peak
}

// Detector runs object detection on a single frame. Implementations must be
// stateless with respect to prior frames.
type Detector interface {
	Infer(f *frame.Frame, threshold float64) (Result, error)
	Close() error
}
