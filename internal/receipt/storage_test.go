package receipt

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		dir     string
		storage *LocalStorage
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "storage-test")
		Expect(err).NotTo(HaveOccurred())

		storage, err = NewLocalStorage(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("round-trips a file", func() {
		path, err := storage.Save("receipt.jpg", []byte("image data"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal("receipt.jpg"))

		data, err := storage.Get("receipt.jpg")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("image data")))
	})

	It("creates nested trip directories on demand", func() {
		path, err := storage.Save("trip-1/169000-receipt.jpg", []byte("image data"))
		Expect(err).NotTo(HaveOccurred())
		Expect(path).To(Equal("trip-1/169000-receipt.jpg"))

		_, err = os.Stat(filepath.Join(dir, "trip-1", "169000-receipt.jpg"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects saving to an existing path", func() {
		_, err := storage.Save("receipt.jpg", []byte("first"))
		Expect(err).NotTo(HaveOccurred())

		_, err = storage.Save("receipt.jpg", []byte("second"))
		Expect(errors.Is(err, ErrPathExists)).To(BeTrue())

		data, err := storage.Get("receipt.jpg")
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("first")))
	})

	It("deletes a file", func() {
		_, err := storage.Save("receipt.jpg", []byte("image data"))
		Expect(err).NotTo(HaveOccurred())

		Expect(storage.Delete("receipt.jpg")).To(Succeed())

		_, err = storage.Get("receipt.jpg")
		Expect(err).To(HaveOccurred())
	})

	It("errors when getting a missing file", func() {
		_, err := storage.Get("missing.jpg")
		Expect(err).To(HaveOccurred())
	})

	It("errors when deleting a missing file", func() {
		Expect(storage.Delete("missing.jpg")).NotTo(Succeed())
	})
})

var _ = Describe("ExtractStoragePath", func() {
	DescribeTable("storage URL to object path",
		func(input, expected string) {
			Expect(ExtractStoragePath(input)).To(Equal(expected))
		},
		Entry("bare path passes through",
			"trip-1/169000-receipt.jpg", "trip-1/169000-receipt.jpg"),
		Entry("signed URL is stripped to the object path",
			"https://cdn.example.com/storage/v1/object/sign/receipt-images/trip-1/receipt.jpg", "trip-1/receipt.jpg"),
		Entry("query string is dropped",
			"https://cdn.example.com/receipt-images/trip-1/receipt.jpg?token=abc&exp=42", "trip-1/receipt.jpg"),
		Entry("URL without the bucket marker passes through",
			"https://example.com/other/receipt.jpg", "https://example.com/other/receipt.jpg"),
		Entry("empty string passes through", "", ""),
	)
})
