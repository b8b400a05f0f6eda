package btreeidx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeSplit_EvenMiddleFits(t *testing.T) {
	sizes := []int{100, 100, 100, 100, 100}
	mid, err := computeSplit(sizes, false, false)
	require.NoError(t, err)
	require.Equal(t, 2, mid)
}

func TestComputeSplit_SequentialRightConvergent(t *testing.T) {
	sizes := make([]int, 20)
	for i := range sizes {
		sizes[i] = 10
	}
	mid, err := computeSplit(sizes, true, false)
	require.NoError(t, err)
	require.Equal(t, len(sizes)-1, mid, "sequential max insert keeps everything but the new record on the left")
}

func TestComputeSplit_SequentialLeftConvergent(t *testing.T) {
	sizes := make([]int, 20)
	for i := range sizes {
		sizes[i] = 10
	}
	mid, err := computeSplit(sizes, false, true)
	require.NoError(t, err)
	require.Equal(t, 1, mid)
}

func TestComputeSplit_RetriesWhenMiddleDoesNotFit(t *testing.T) {
	// Two large records on the left half mean the naive n/2 boundary
	// (index 2) puts more than pageCapacity on the left; computeSplit
	// must walk outward to a boundary that actually fits both sides.
	sizes := []int{5000, 5000, 10, 10, 10}
	mid, err := computeSplit(sizes, false, false)
	require.NoError(t, err)
	require.NotEqual(t, len(sizes)/2, mid, "the naive middle boundary does not fit")

	left, right := 0, 0
	for i, s := range sizes {
		if i < mid {
			left += s
		} else {
			right += s
		}
	}
	require.LessOrEqual(t, left, pageCapacity)
	require.LessOrEqual(t, right, pageCapacity)
}

func TestComputeSplit_DoesNotFitReturnsError(t *testing.T) {
	sizes := []int{pageCapacity + 1, 100}
	_, err := computeSplit(sizes, false, false)
	require.ErrorIs(t, err, ErrInsertDoesNotFit)
}
