package sizing

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/datagen/datagen/pkg/types"
)

func TestEstimateOneMegabyte(t *testing.T) {
	tests := []struct {
		fileType types.FileType
		want     int64
	}{
		{types.FileTypeCSV, 10485},
		{types.FileTypeJSON, 5242},
		{types.FileTypeXML, 3495},
		{"parquet", 5242},
	}
	for _, tt := range tests {
		if got := EstimateFor(1, tt.fileType); got != tt.want {
			t.Errorf("EstimateFor(1, %s) = %d, want %d", tt.fileType, got, tt.want)
		}
	}
}

func TestEstimateDegenerateInputs(t *testing.T) {
	if got := Estimate(0, 100); got != 0 {
		t.Errorf("Estimate(0, 100) = %d, want 0", got)
	}
	if got := Estimate(1, 0); got != 0 {
		t.Errorf("Estimate(1, 0) = %d, want 0", got)
	}
}

// TestProperty_EstimateFloor checks the estimate is the floor of the exact quotient.
func TestProperty_EstimateFloor(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("n*avg fits in the target and (n+1)*avg does not", prop.ForAll(
		func(mb int, avg int) bool {
			n := Estimate(float64(mb), avg)
			target := int64(mb) * 1024 * 1024
			return n*int64(avg) <= target && (n+1)*int64(avg) > target
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 4096),
	))

	properties.Property("estimate is monotonic in the target size", prop.ForAll(
		func(a, b float64) bool {
			if a > b {
				a, b = b, a
			}
			return EstimateFor(a, types.FileTypeJSON) <= EstimateFor(b, types.FileTypeJSON)
		},
		gen.Float64Range(1, 1000),
		gen.Float64Range(1, 1000),
	))

	properties.TestingRun(t)
}
