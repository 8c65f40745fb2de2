package receipt

import (
	"archive/zip"
	"bytes"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("sanitizeFilenamePart", func() {
	It("strips unsafe characters", func() {
		Expect(sanitizeFilenamePart(`Joe's "Diner", Downtown`)).To(Equal("Joes_Diner_Downtown"))
	})

	It("collapses whitespace to underscores", func() {
		Expect(sanitizeFilenamePart("Blue  Bottle\tCoffee")).To(Equal("Blue_Bottle_Coffee"))
	})

	It("caps the length at 100 characters", func() {
		long := bytes.Repeat([]byte("a"), 150)
		Expect(sanitizeFilenamePart(string(long))).To(HaveLen(100))
	})
})

var _ = Describe("imageFilename", func() {
	It("combines location and date with the source extension", func() {
		r := &Receipt{
			Location:  strp("Blue Bottle Coffee"),
			Date:      strp("2025-01-20"),
			ImagePath: "trip-1/169000-receipt.png",
		}
		Expect(imageFilename(r)).To(Equal("Blue_Bottle_Coffee_2025-01-20.png"))
	})

	It("falls back to Unknown and no-date", func() {
		r := &Receipt{ImagePath: "trip-1/receipt.jpg"}
		Expect(imageFilename(r)).To(Equal("Unknown_no-date.jpg"))
	})

	It("normalizes jpeg to jpg", func() {
		r := &Receipt{Date: strp("2025-01-20"), ImagePath: "trip-1/receipt.jpeg"}
		Expect(imageFilename(r)).To(Equal("Unknown_2025-01-20.jpg"))
	})

	It("defaults an unrecognized extension to jpg", func() {
		r := &Receipt{Date: strp("2025-01-20"), ImagePath: "trip-1/receipt.bin"}
		Expect(imageFilename(r)).To(Equal("Unknown_2025-01-20.jpg"))
	})
})

var _ = Describe("GenerateZIP", func() {
	var storage *mockStorage

	BeforeEach(func() {
		storage = newMockStorage()
	})

	entryNames := func(data []byte) []string {
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		Expect(err).NotTo(HaveOccurred())
		names := make([]string, 0, len(zr.File))
		for _, f := range zr.File {
			names = append(names, f.Name)
		}
		return names
	}

	It("bundles images under a receipts folder", func() {
		storage.files["trip-1/a.jpg"] = []byte("image a")
		receipts := []*Receipt{
			{Location: strp("Cafe"), Date: strp("2025-01-20"), ImagePath: "trip-1/a.jpg"},
		}

		data, err := GenerateZIP(receipts, storage)
		Expect(err).NotTo(HaveOccurred())
		Expect(entryNames(data)).To(Equal([]string{"receipts/Cafe_2025-01-20.jpg"}))

		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		Expect(err).NotTo(HaveOccurred())
		f, err := zr.File[0].Open()
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		content, err := io.ReadAll(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(content).To(Equal([]byte("image a")))
	})

	It("suffixes duplicate names", func() {
		storage.files["trip-1/a.jpg"] = []byte("image a")
		storage.files["trip-1/b.jpg"] = []byte("image b")
		receipts := []*Receipt{
			{Location: strp("Cafe"), Date: strp("2025-01-20"), ImagePath: "trip-1/a.jpg"},
			{Location: strp("Cafe"), Date: strp("2025-01-20"), ImagePath: "trip-1/b.jpg"},
		}

		data, err := GenerateZIP(receipts, storage)
		Expect(err).NotTo(HaveOccurred())
		Expect(entryNames(data)).To(Equal([]string{
			"receipts/Cafe_2025-01-20.jpg",
			"receipts/Cafe_2025-01-20_2.jpg",
		}))
	})

	It("skips receipts whose blob is missing", func() {
		storage.files["trip-1/a.jpg"] = []byte("image a")
		receipts := []*Receipt{
			{Location: strp("Cafe"), Date: strp("2025-01-20"), ImagePath: "trip-1/a.jpg"},
			{Location: strp("Gone"), Date: strp("2025-01-21"), ImagePath: "trip-1/missing.jpg"},
		}

		data, err := GenerateZIP(receipts, storage)
		Expect(err).NotTo(HaveOccurred())
		Expect(entryNames(data)).To(Equal([]string{"receipts/Cafe_2025-01-20.jpg"}))
	})

	It("produces a valid empty archive for no receipts", func() {
		data, err := GenerateZIP(nil, storage)
		Expect(err).NotTo(HaveOccurred())
		Expect(entryNames(data)).To(BeEmpty())
	})
})
