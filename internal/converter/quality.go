package converter

import (
	"image"
	"math"

	"github.com/chai2010/webp"
	"github.com/gen2brain/avif"
	"github.com/trunov/heroproxy/internal/entities"
)

// Every mapping below takes the request quality (0 worst, 100 best) and is
// monotonic in it. From entities.LosslessQuality upwards WebP and JXL run
// lossless. AVIF has no lossless mode here (see AVIFOptions) and gets its
// best lossy setting instead.

func clampQuality(q int) int {
	return min(max(q, 0), 100)
}

func lossless(q int) bool {
	return entities.EncodeOptions{Quality: q}.Lossless()
}

// WebPOptions maps quality 1:1 onto libwebp's scale. In lossless mode
// libwebp reads the quality as compression effort instead.
func WebPOptions(quality int) *webp.Options {
	q := clampQuality(quality)
	return &webp.Options{
		Lossless: lossless(q),
		Quality:  float32(q),
		Exact:    true,
	}
}

// AVIFQuality maps onto libavif's 1-100 scale. The encoder treats 0 as
// "use the default of 60", so the bottom of the range is pinned to 1.
func AVIFQuality(quality int) int {
	q := clampQuality(quality)
	if lossless(q) {
		return 100
	}
	return max(q, 1)
}

// AVIFOptions builds the encoder options for a request quality and the
// configured speed (0 slowest, 10 fastest).
//
// The encoder always converts RGB to YCbCr, so even quality 100 is only
// near-lossless: planes are coded exactly but colour conversion rounds each
// channel by a few levels. Chroma is kept at full resolution from
// entities.LosslessQuality upwards and subsampled 4:2:0 below it.
//
// Speed 0 is sent as 1 because the encoder reads 0 as its default, the
// fastest preset.
func AVIFOptions(quality, speed int) avif.Options {
	q := AVIFQuality(quality)

	chroma := image.YCbCrSubsampleRatio420
	if lossless(clampQuality(quality)) {
		chroma = image.YCbCrSubsampleRatio444
	}

	return avif.Options{
		Quality:           q,
		QualityAlpha:      q,
		Speed:             min(max(speed, 1), 10),
		ChromaSubsampling: chroma,
	}
}

// JXLDistance is the butteraugli distance for a request quality. Lower is
// better and 0 means lossless. The 0.7 exponent spends more of the range on
// the low end so small quality steps there stay visible.
func JXLDistance(quality int) float64 {
	q := clampQuality(quality)
	if lossless(q) {
		return 0
	}
	return 8 * (1 - math.Pow(float64(q)/100, 0.7))
}

// JXLQuality converts JXLDistance into the quality scale of the encoder,
// by inverting libjxl's JxlEncoderDistanceFromQuality. Lossy output is kept
// at 99 or below because 100 selects lossless mode.
func JXLQuality(quality int) int {
	if lossless(clampQuality(quality)) {
		return 100
	}

	d := JXLDistance(quality)
	var q float64
	if d <= 6.4 {
		q = 100 - (d-0.1)/0.09
	} else {
		// d = a*q^2 + b*q + 25 for q < 30
		const a, b = 53.0 / 3000.0, -23.0 / 20.0
		q = (-b - math.Sqrt(b*b-4*a*(25-d))) / (2 * a)
	}
	return min(max(int(math.Round(q)), 0), 99)
}

// JXLEffort maps the 1 (fastest) to 8 (slowest) speed setting onto libjxl
// effort; 8 is the "tortoise" preset, effort 9.
func JXLEffort(speed int) int {
	switch {
	case speed <= 0:
		return 7
	case speed >= 8:
		return 9
	default:
		return speed
	}
}
