package server

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			data      []byte
			savedPath string
			err       error
		)

		BeforeEach(func() {
			filename = "IMG_2024 (1).JPG"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, data)
		})

		It("should write the file inside the storage directory", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(savedPath).To(BeAnExistingFile())
			Expect(filepath.Dir(savedPath)).To(Equal(storage.basePath))
			Expect(filepath.Base(savedPath)).To(HaveSuffix("_IMG_2024_1.jpg"))
		})

		It("should reuse the file for identical content", func() {
			info, statErr := os.Stat(savedPath)
			Expect(statErr).NotTo(HaveOccurred())

			again, err := storage.Save("other.jpg", data)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).NotTo(Equal(savedPath))

			same, err := storage.Save(filename, data)
			Expect(err).NotTo(HaveOccurred())
			Expect(same).To(Equal(savedPath))

			after, statErr := os.Stat(same)
			Expect(statErr).NotTo(HaveOccurred())
			Expect(after.ModTime()).To(Equal(info.ModTime()))
		})

		It("should store different content separately", func() {
			other, err := storage.Save(filename, []byte("different"))
			Expect(err).NotTo(HaveOccurred())
			Expect(other).NotTo(Equal(savedPath))
		})
	})

	Describe("Delete", func() {
		It("should remove a stored file", func() {
			path, err := storage.Save("receipt.png", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(storage.Delete(path)).To(Succeed())
			Expect(path).NotTo(BeAnExistingFile())
		})

		It("should refuse paths outside the storage directory", func() {
			outside := filepath.Join(GinkgoT().TempDir(), "keep.txt")
			Expect(os.WriteFile(outside, []byte("x"), 0644)).To(Succeed())
			Expect(storage.Delete(outside)).To(HaveOccurred())
			Expect(outside).To(BeAnExistingFile())
		})
	})
})

var _ = Describe("sanitizeFilename", func() {
	DescribeTable("cleans names",
		func(in, want string) {
			Expect(sanitizeFilename(in)).To(Equal(want))
		},
		Entry("plain", "receipt.png", "receipt.png"),
		Entry("special characters", "my receipt!@#.jpeg", "my_receipt.jpeg"),
		Entry("directories are dropped", "../../etc/passwd", "passwd"),
		Entry("empty base", "!!!.png", "receipt.png"),
		Entry("long names", "a123456789b123456789c123456789d123456789e123456789f123.heic", "a123456789b123456789c123456789d123456789e123456789.heic"),
	)
})
