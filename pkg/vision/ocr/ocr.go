// Package ocr 提供纯像素的牌面模板匹配识别
//
// 基本用法:
//
//	// 识别一张牌面图
//	cand, err := ocr.RecognizeImage("card.png")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("牌: %s, 分数: %.2f, 区分度: %.2f\n", cand.Card, cand.Score, cand.Delta)
//
//	// 结合确认策略逐次累积
//	cache := ocr.NewCache(ocr.DefaultPolicy())
//	d := cache.Observe(token, *cand, time.Now())
//	if d.Accepted {
//	    // 写入映射表
//	}
package ocr

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// RecognizeImage 用全局识别器识别图像
// 支持文件路径或 image.Image
func RecognizeImage(input interface{}, opts ...Option) (*Candidate, error) {
	img, err := loadImage(input)
	if err != nil {
		return nil, err
	}
	return GetGlobalMatcher().Recognize(img, opts...)
}

// loadImage 加载图像
func loadImage(input interface{}) (image.Image, error) {
	switch v := input.(type) {
	case string:
		return loadImageFromFile(v)
	case image.Image:
		return v, nil
	default:
		return nil, fmt.Errorf("不支持的图像输入类型: %T", input)
	}
}

// loadImageFromFile 从文件加载图像
func loadImageFromFile(filename string) (image.Image, error) {
	file, err := os.Open(filename)
	if err != nil {
		olog.Error("打开图像文件失败: %s, %v", filename, err)
		return nil, fmt.Errorf("打开图像文件失败: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		olog.Error("解码图像失败: %s, %v", filename, err)
		return nil, fmt.Errorf("解码图像失败: %w", err)
	}

	return img, nil
}
