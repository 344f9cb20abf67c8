package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ColonelBlimp/fatiguedetector/internal/fatigue"
)

func TestDecode(t *testing.T) {
	s, err := Decode([]byte(`{"t": 1.5, "amplitude": 0.8, "spectral": 0.95}`))
	require.NoError(t, err)
	assert.Equal(t, 1.5, s.Timestamp)
	assert.Equal(t, 0.8, s.Amplitude)
	require.NotNil(t, s.Spectral)
	assert.Equal(t, 0.95, *s.Spectral)

	s, err = Decode([]byte(`{"t": 2, "amplitude": 0}`))
	require.NoError(t, err)
	assert.Nil(t, s.Spectral)
	assert.Zero(t, s.Amplitude, "explicit zero amplitude is valid")
}

func TestDecode_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"not json", `t=1`},
		{"missing amplitude", `{"t": 1}`},
		{"missing timestamp", `{"amplitude": 1}`},
		{"wrong type", `{"t": "soon", "amplitude": 1}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.input))
			assert.Error(t, err)
		})
	}

	_, err := Decode([]byte(`{"t": 1}`))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestRecord_RoundTrip(t *testing.T) {
	in := fatigue.NewSample(3, 1.2).WithSpectral(0.7)
	b, err := json.Marshal(FromSample(in))
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":3,"amplitude":1.2,"spectral":0.7}`, string(b))

	b, err = json.Marshal(FromSample(fatigue.NewSample(4, 1)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":4,"amplitude":1}`, string(b))
}

func TestReader(t *testing.T) {
	input := `{"t": 0, "amplitude": 1.0}

{"t": 1, "amplitude": 1.1, "spectral": 0.9}
{"t": 2, "amplitude": oops}
`
	r := NewReader(strings.NewReader(input))

	s, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Timestamp)

	s, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Timestamp)
	require.NotNil(t, s.Spectral)

	_, err = r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 4")

	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestParseCSV(t *testing.T) {
	input := `t,amplitude,spectral
# warm-up
0,1.00,0.95
1, 1.05,
2,1.10
`
	samples, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.Equal(t, 0.0, samples[0].Timestamp)
	require.NotNil(t, samples[0].Spectral)
	assert.Equal(t, 0.95, *samples[0].Spectral)

	assert.Equal(t, 1.05, samples[1].Amplitude)
	assert.Nil(t, samples[1].Spectral, "empty spectral cell is absent")
	assert.Nil(t, samples[2].Spectral)
}

func TestParseCSV_NoHeader(t *testing.T) {
	samples, err := ParseCSV(strings.NewReader("0,1\n1,NaN\n"))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.True(t, math.IsNaN(samples[1].Amplitude), "non-finite values are left to the detector")
}

func TestParseCSV_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"too many columns", "0,1,2,3\n", "line 1"},
		{"bad amplitude", "t,a\n0,abc\n", "amplitude"},
		{"bad spectral", "0,1,x\n", "spectral"},
		{"single column", "0,1\n5\n", "line 2"},
		{"line after comments", "# recorded 2026-10-01\n# athlete 7\nt,a\n0,1\n1,x\n", "line 5"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tc.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
