package intake

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/clinimage/imagingd/types"
)

// transcodeToNative re-encodes a compressed Part 10 instance as
// Explicit VR Little Endian with native 8-bit grayscale pixel data.
// Lossy sources stay lossy; the point is that every stored file can be
// read back without a codec.
func transcodeToNative(part10 []byte) ([]byte, error) {
	ds, err := dicom.Parse(bytes.NewReader(part10), int64(len(part10)), nil)
	if err != nil {
		return nil, fmt.Errorf("parse instance: %w", err)
	}

	pixelEl, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data: %w", err)
	}
	info, ok := pixelEl.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel data value type %T", pixelEl.Value.GetValue())
	}
	if !info.IsEncapsulated {
		return part10, nil
	}
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("pixel data has no frames")
	}

	rows, cols := 0, 0
	frames := make([]*frame.Frame, len(info.Frames))
	for i, fr := range info.Frames {
		img, err := fr.GetImage()
		if err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", i, err)
		}
		bounds := img.Bounds()
		w, h := bounds.Dx(), bounds.Dy()
		if w == 0 || h == 0 {
			return nil, fmt.Errorf("frame %d has empty bounds", i)
		}
		rows, cols = h, w

		native := frame.NewNativeFrame[uint8](8, h, w, w*h, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				gray := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
				native.RawData[y*w+x] = gray.Y
			}
		}
		frames[i] = &frame.Frame{Encapsulated: false, NativeData: native}
	}

	replacements := []struct {
		tag   tag.Tag
		value interface{}
	}{
		{tag.TransferSyntaxUID, []string{types.ExplicitVRLittleEndian}},
		{tag.PixelData, dicom.PixelDataInfo{Frames: frames, IsEncapsulated: false}},
		{tag.Rows, []int{rows}},
		{tag.Columns, []int{cols}},
		{tag.BitsAllocated, []int{8}},
		{tag.BitsStored, []int{8}},
		{tag.HighBit, []int{7}},
		{tag.SamplesPerPixel, []int{1}},
		{tag.PhotometricInterpretation, []string{"MONOCHROME2"}},
	}
	for _, r := range replacements {
		el, err := dicom.NewElement(r.tag, r.value)
		if err != nil {
			return nil, fmt.Errorf("build element %v: %w", r.tag, err)
		}
		replaceElement(&ds, el)
	}

	var buf bytes.Buffer
	if err := dicom.Write(&buf, ds, dicom.SkipVRVerification()); err != nil {
		return nil, fmt.Errorf("encode instance: %w", err)
	}
	return buf.Bytes(), nil
}

// replaceElement swaps the element with the same tag, appending when
// the dataset does not carry it yet.
func replaceElement(ds *dicom.Dataset, el *dicom.Element) {
	for i, existing := range ds.Elements {
		if existing.Tag == el.Tag {
			ds.Elements[i] = el
			return
		}
	}
	ds.Elements = append(ds.Elements, el)
}
