package sift

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeCandidatesReadsFourFloatTuples(t *testing.T) {
	data := []float32{1.5, 2, 3, 0, -4.5, 6, 7, 2}
	out := decodeCandidates(data, 2)
	require.Equal(t, []candidateRecord{
		{Value: 1.5, Row: 2, Col: 3, ScaleIndex: 0},
		{Value: -4.5, Row: 6, Col: 7, ScaleIndex: 2},
	}, out)
}

func TestDecodeRefinedMarksSentinelRecordAsInvalid(t *testing.T) {
	// All fractional components chosen exactly representable in binary
	// floating point so the float32->float64 widening introduces no
	// rounding error for require.Equal to trip over.
	data := []float32{10, 5.25, 6.125, 1.75, -1, -1, -1, -1}
	out := decodeRefined(data, 2)
	require.Equal(t, refinedRecord{PeakVal: 10, Row: 5.25, Col: 6.125, SigmaAbs: 1.75, Valid: true}, out[0])
	require.Equal(t, refinedRecord{Valid: false}, out[1])
}

func TestDecodeOrientedReadsFiveFloatTuples(t *testing.T) {
	data := []float32{10, 5.25, 6.125, 1.75, 0.5}
	out := decodeOriented(data, 1)
	require.Equal(t, []orientedRecord{
		{PeakVal: 10, Row: 5.25, Col: 6.125, SigmaAbs: 1.75, Theta: 0.5},
	}, out)
}
