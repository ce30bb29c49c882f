// Package sizing estimates how many records a target output size holds.
package sizing

import (
	"math"

	"github.com/inhies/go-bytesize"

	"github.com/datagen/datagen/pkg/types"
)

// Average encoded record sizes per format, in bytes.
const (
	AvgRecordSizeCSV     = 100
	AvgRecordSizeJSON    = 200
	AvgRecordSizeXML     = 300
	AvgRecordSizeDefault = 200
)

// AverageRecordSize returns the assumed encoded size of one record in fileType.
func AverageRecordSize(fileType types.FileType) int {
	switch fileType {
	case types.FileTypeCSV:
		return AvgRecordSizeCSV
	case types.FileTypeXML:
		return AvgRecordSizeXML
	case types.FileTypeJSON:
		return AvgRecordSizeJSON
	default:
		return AvgRecordSizeDefault
	}
}

// Estimate returns floor(targetSizeMB * 1 MiB / avgRecordSizeBytes).
// The count is an approximation; actual output size varies with the values generated.
func Estimate(targetSizeMB float64, avgRecordSizeBytes int) int64 {
	if targetSizeMB <= 0 || avgRecordSizeBytes <= 0 {
		return 0
	}
	return int64(math.Floor(targetSizeMB * float64(bytesize.MB) / float64(avgRecordSizeBytes)))
}

// EstimateFor is Estimate with the average record size of fileType.
func EstimateFor(targetSizeMB float64, fileType types.FileType) int64 {
	return Estimate(targetSizeMB, AverageRecordSize(fileType))
}

// Approx formats an estimated byte count for logs, e.g. "1.00MB".
func Approx(records int64, fileType types.FileType) string {
	return bytesize.New(float64(records) * float64(AverageRecordSize(fileType))).String()
}
