package encoding

import (
	"fmt"
	"image"
	"math"
)

// h264ProfileSizes lists the frame sizes each H.264 level handles at
// desktop frame rates, largest first.
var h264ProfileSizes = map[string][]image.Point{
	"3.1": {
		{X: 1280, Y: 720},
		{X: 720, Y: 576},
		{X: 720, Y: 480},
	},
	"4.1": {
		{X: 1920, Y: 1080},
		{X: 1280, Y: 720},
		{X: 720, Y: 576},
		{X: 720, Y: 480},
	},
}

// findBestSizeForH264Profile picks the level size closest to the aspect
// ratio of constraints, preferring an exact match.
func findBestSizeForH264Profile(profile string, constraints image.Point) (image.Point, error) {
	sizes, exists := h264ProfileSizes[profile]
	if !exists {
		return image.Point{}, fmt.Errorf("profile %s not supported", profile)
	}

	minRatioDiff := math.MaxFloat64
	var minRatioSize image.Point
	for _, size := range sizes {
		if size == constraints {
			return size, nil
		}
		lowerRes := size.X < constraints.X && size.Y < constraints.Y
		hRatio := float64(constraints.X) / float64(size.X)
		vRatio := float64(constraints.Y) / float64(size.Y)
		ratioDiff := math.Abs(hRatio - vRatio)
		if lowerRes && ratioDiff < 0.0001 {
			return size, nil
		} else if ratioDiff < minRatioDiff {
			minRatioDiff = ratioDiff
			minRatioSize = size
		}
	}
	return minRatioSize, nil
}
