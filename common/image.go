package common

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/aaronland/go-image-tools/imaging"
	"github.com/aaronland/go-image-tools/util"
	"github.com/rwcarlsen/goexif/exif"
	"gocloud.dev/blob"
)

// DecodeImage reads and decodes an image stored in a blob.Bucket
// instance, returning the image and its format label.
func DecodeImage(ctx context.Context, bucket *blob.Bucket, path string) (image.Image, string, error) {

	fh, err := bucket.NewReader(ctx, path, nil)

	if err != nil {
		return nil, "", fmt.Errorf("Failed to create reader for %s, %w", path, err)
	}

	defer fh.Close()

	im, format, err := util.DecodeImageFromReader(fh)

	if err != nil {
		return nil, "", fmt.Errorf("Failed to decode image from %s, %w", path, err)
	}

	return im, format, nil
}

// DecodeImageOriented reads and decodes an image stored in a
// blob.Bucket instance, applying the rotation or flip named by the
// file's EXIF orientation tag so that pixel coordinates match what a
// viewer (and an annotator) sees. Files without EXIF data decode as-is.
func DecodeImageOriented(ctx context.Context, bucket *blob.Bucket, path string) (image.Image, string, error) {

	fh, err := bucket.NewReader(ctx, path, nil)

	if err != nil {
		return nil, "", fmt.Errorf("Failed to create reader for %s, %w", path, err)
	}

	defer fh.Close()

	body, err := io.ReadAll(fh)

	if err != nil {
		return nil, "", fmt.Errorf("Failed to read %s, %w", path, err)
	}

	im, format, err := util.DecodeImageFromReader(bytes.NewReader(body))

	if err != nil {
		return nil, "", fmt.Errorf("Failed to decode image from %s, %w", path, err)
	}

	orientation := 1

	x, err := exif.Decode(bytes.NewReader(body))

	if err == nil {

		tag, err := x.Get(exif.Orientation)

		if err == nil {

			o, err := tag.Int(0)

			if err == nil {
				orientation = o
			}
		}
	}

	return orientImage(im, orientation), format, nil
}

// orientImage normalizes an image to EXIF orientation 1.
func orientImage(im image.Image, orientation int) image.Image {

	switch orientation {
	case 2:
		return imaging.FlipH(im)
	case 3:
		return imaging.Rotate180(im)
	case 4:
		return imaging.FlipV(im)
	case 5:
		return imaging.Transpose(im)
	case 6:
		return imaging.Rotate270(im)
	case 7:
		return imaging.Transverse(im)
	case 8:
		return imaging.Rotate90(im)
	default:
		return im
	}
}

// EncodeJPEG encodes an image as JPEG at the given quality, in
// [1, 100].
func EncodeJPEG(im image.Image, quality int) ([]byte, error) {

	var buf bytes.Buffer

	opts := &jpeg.Options{
		Quality: quality,
	}

	err := jpeg.Encode(&buf, im, opts)

	if err != nil {
		return nil, fmt.Errorf("Failed to encode JPEG, %w", err)
	}

	return buf.Bytes(), nil
}
