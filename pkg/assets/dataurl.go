package assets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/url"
	"strings"
)

// DecodeDataURL 解码 data: 地址中的图像
func DecodeDataURL(ref string) (image.Image, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return nil, &ImageDecodeError{Ref: shortRef(ref), Err: errors.New("不是 data 地址")}
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, &ImageDecodeError{Ref: shortRef(ref), Err: errors.New("data 地址缺少数据段")}
	}

	var data []byte
	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, &ImageDecodeError{Ref: shortRef(ref), Err: fmt.Errorf("base64 解码失败: %w", err)}
		}
		data = b
		meta = strings.TrimSuffix(meta, ";base64")
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, &ImageDecodeError{Ref: shortRef(ref), Err: fmt.Errorf("解码失败: %w", err)}
		}
		data = []byte(s)
	}
	return decode(shortRef(ref), data, meta)
}

// EncodeDataURL 将图像编码为 data 地址
// format: "png" 或 "jpeg"，默认 "png"
func EncodeDataURL(img image.Image, format string) (string, error) {
	if img == nil {
		return "", fmt.Errorf("图像为空")
	}

	var buf bytes.Buffer
	var mimeType string

	switch format {
	case "", "png":
		if err := png.Encode(&buf, img); err != nil {
			return "", fmt.Errorf("PNG 编码失败: %w", err)
		}
		mimeType = "image/png"
	case "jpeg", "jpg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return "", fmt.Errorf("JPEG 编码失败: %w", err)
		}
		mimeType = "image/jpeg"
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

func shortRef(ref string) string {
	if len(ref) > 48 {
		return ref[:48] + "..."
	}
	return ref
}
