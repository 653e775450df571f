package scan

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const defaultMIME = "image/jpeg"

// DataURL encodes the frame the way the kiosk browser produces it.
func (f Frame) DataURL() string {
	mime := f.MIMEType
	if mime == "" {
		mime = defaultMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// Base64 is the bare payload used by inline-data APIs.
func (f Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Data)
}

// ParseDataURL decodes "data:<mime>;base64,<payload>". A bare base64 payload
// is accepted and assumed to be JPEG.
func ParseDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", fmt.Errorf("empty image")
	}
	mime := defaultMIME
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, data, ok := strings.Cut(s, ",")
		if !ok {
			return nil, "", fmt.Errorf("malformed data url")
		}
		header = strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(header, ";base64") {
			return nil, "", fmt.Errorf("data url is not base64 encoded")
		}
		if m := strings.TrimSuffix(header, ";base64"); m != "" {
			mime = m
		}
		payload = data
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if len(b) == 0 {
		return nil, "", fmt.Errorf("empty image")
	}
	return b, mime, nil
}
