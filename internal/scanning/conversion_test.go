package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func testPNG() []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, testImage())).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("prepareImageData", func() {
	var (
		input       []byte
		contentType string
		output      []byte
		err         error
	)

	JustBeforeEach(func() {
		output, err = prepareImageData(input, contentType)
	})

	When("the image is already PNG", func() {
		BeforeEach(func() {
			input = testPNG()
			contentType = "image/png"
		})

		It("passes the data through", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(Equal(input))
		})
	})

	When("the image is JPEG without a content type", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, testImage(), nil)).To(Succeed())
			input = buf.Bytes()
			contentType = ""
		})

		It("converts it to PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			_, format, decodeErr := image.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(format).To(Equal("png"))
		})
	})

	When("the data is not an image", func() {
		BeforeEach(func() {
			input = []byte("definitely not an image")
			contentType = "text/plain"
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported image format"))
		})
	})

	When("the data is empty", func() {
		BeforeEach(func() {
			input = nil
			contentType = "image/png"
		})

		It("returns the error", func() {
			Expect(err).To(MatchError("empty image"))
		})
	})
})

var _ = Describe("detectMIMEType", func() {
	It("strips parameters and lower-cases", func() {
		Expect(detectMIMEType(testPNG(), "IMAGE/PNG; charset=binary")).To(Equal("image/png"))
	})

	It("recognizes HEIC by its ftyp brand", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(detectMIMEType(data, "application/octet-stream")).To(Equal("image/heic"))
	})

	It("sniffs the data when no type is given", func() {
		Expect(detectMIMEType(testPNG(), "")).To(Equal("image/png"))
	})
})
