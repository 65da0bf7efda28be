package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

const downloadBaseName = "glamour-shot-80s"

// Asset is a produced image or video ready to be saved by a client.
type Asset struct {
	Name     string
	MimeType string
	Data     []byte
}

// NormalizeMimeType strips parameters and falls back to sniffing the payload.
func NormalizeMimeType(declared string, data []byte) string {
	mimeType := stripParams(declared)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = stripParams(http.DetectContentType(data))
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(stripParams(mimeType)), "image/")
}

func DataURL(mimeType string, data []byte) string {
	return EncodeDataURL(mimeType, base64.StdEncoding.EncodeToString(data))
}

func EncodeDataURL(mimeType, base64Data string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64Data)
}

// ParseDataURL splits a base64 data URL. A bare base64 payload is accepted
// and reported with the fallback MIME type.
func ParseDataURL(value, fallbackMime string) (mimeType string, base64Data string, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", "", errors.New("empty data url")
	}

	const prefix = "data:"
	if !strings.HasPrefix(value, prefix) {
		return fallbackMime, value, nil
	}

	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return "", "", errors.New("invalid data url")
	}

	meta := strings.TrimPrefix(parts[0], prefix)
	metaParts := strings.Split(meta, ";")
	mimeType = strings.TrimSpace(metaParts[0])
	if mimeType == "" {
		mimeType = fallbackMime
	}
	return mimeType, parts[1], nil
}

func DecodeDataURL(value, fallbackMime string) (string, []byte, error) {
	mimeType, b64, err := ParseDataURL(value, fallbackMime)
	if err != nil {
		return "", nil, err
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	return mimeType, data, nil
}

// NewAsset decodes a data URL into a downloadable file named after the
// glamour shot, with the extension taken from its MIME type.
func NewAsset(dataURL string, fallbackMime string) (Asset, error) {
	mimeType, data, err := DecodeDataURL(dataURL, fallbackMime)
	if err != nil {
		return Asset{}, err
	}
	return Asset{
		Name:     downloadBaseName + Extension(mimeType),
		MimeType: mimeType,
		Data:     data,
	}, nil
}

func Extension(mimeType string) string {
	switch stripParams(mimeType) {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	if strings.HasPrefix(mimeType, "video/") {
		return ".mp4"
	}
	return ".png"
}

func stripParams(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if strings.Contains(mimeType, ";") {
		mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	return strings.ToLower(mimeType)
}
