package types

import "strings"

// FileType is the requested serialization format.
type FileType string

const (
	FileTypeCSV  FileType = "csv"
	FileTypeJSON FileType = "json"
	FileTypeXML  FileType = "xml"
)

// ParseFileType normalizes a format tag. The second result is false for unknown tags.
func ParseFileType(s string) (FileType, bool) {
	switch ft := FileType(strings.ToLower(strings.TrimSpace(s))); ft {
	case FileTypeCSV, FileTypeJSON, FileTypeXML:
		return ft, true
	default:
		return ft, false
	}
}

// GenerateRequest is the request accepted by every transport.
type GenerateRequest struct {
	// FileType selects the output format: csv, json or xml
	FileType FileType `json:"fileType"`

	// FileSize is the target output size in megabytes
	FileSize float64 `json:"fileSize"`

	// Properties is the ordered schema of each record
	Properties Schema `json:"properties"`
}
