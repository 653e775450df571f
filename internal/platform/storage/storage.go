package storage

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const serviceName = "media store"

// ImagePath is the object path of the index-th (0-based) captured frame.
func ImagePath(patientID string, index int, mimeType string) string {
	return fmt.Sprintf("patients/%s/image-%d%s", patientID, index+1, imageExt(mimeType))
}

func imageExt(mimeType string) string {
	switch imageType(mimeType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// imageType defaults to JPEG, which is what kiosk cameras encode.
func imageType(mimeType string) string {
	if mimeType == "" {
		return "image/jpeg"
	}
	return mimeType
}

// DocumentPath is the object path of a generated report.
func DocumentPath(patientID, fileName string, at time.Time) string {
	return fmt.Sprintf("reports/%s/pdf_%d_%s", patientID, at.UnixMilli(), fileName)
}

// publicURL joins base and an object path, escaping each segment.
func publicURL(base, objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}
