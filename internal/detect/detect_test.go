package detect

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClass(t *testing.T) {
	c, err := ParseClass("person")
	require.NoError(t, err)
	assert.Equal(t, ClassPerson, c)

	c, err = ParseClass("Truck")
	require.NoError(t, err)
	assert.Equal(t, ClassTruck, c)

	_, err = ParseClass("giraffe")
	assert.Error(t, err)
}

func TestClassFromCOCO(t *testing.T) {
	assert.Equal(t, ClassPerson, ClassFromCOCO(0))
	assert.Equal(t, ClassBus, ClassFromCOCO(5))
	assert.Equal(t, ClassCat, ClassFromCOCO(15))
	assert.Equal(t, ClassUnknown, ClassFromCOCO(63)) // laptop
}

func TestNewClassSet(t *testing.T) {
	set, err := NewClassSet([]string{"person", "dog"})
	require.NoError(t, err)
	assert.True(t, set.Contains(ClassPerson))
	assert.True(t, set.Contains(ClassDog))
	assert.False(t, set.Contains(ClassCar))

	_, err = NewClassSet([]string{"person", "dragon"})
	assert.Error(t, err)
}

func TestResultQualifying(t *testing.T) {
	set, err := NewClassSet([]string{"person"})
	require.NoError(t, err)

	r := Result{
		{Class: ClassPerson, Confidence: 0.9, Box: image.Rect(0, 0, 10, 10)},
		{Class: ClassPerson, Confidence: 0.3, Box: image.Rect(10, 0, 20, 10)},
		{Class: ClassCar, Confidence: 0.95, Box: image.Rect(20, 0, 30, 10)},
	}

	q := r.Qualifying(set, 0.45)
	require.Len(t, q, 1)
	assert.InDelta(t, 0.9, q[0].Confidence, 1e-9)

	// Threshold boundary is inclusive.
	q = r.Qualifying(set, 0.9)
	assert.Len(t, q, 1)
	q = r.Qualifying(set, 0.91)
	assert.Empty(t, q)
}

func TestResultPeak(t *testing.T) {
	assert.Zero(t, Result{}.Peak())
	r := Result{
		{Class: ClassPerson, Confidence: 0.4},
		{Class: ClassPerson, Confidence: 0.8},
		{Class: ClassDog, Confidence: 0.6},
	}
	assert.InDelta(t, 0.8, r.Peak(), 1e-9)
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "person", ClassPerson.String())
	assert.Equal(t, "unknown", Class(42).String())
}
