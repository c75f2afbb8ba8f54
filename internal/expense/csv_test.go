package expense

import (
	"bytes"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("WriteCSV", func() {
	var (
		buf     *bytes.Buffer
		records []Record
		err     error
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		records = nil
	})

	JustBeforeEach(func() {
		err = WriteCSV(buf, records)
	})

	When("there are no records", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should start with a UTF-8 byte-order mark", func() {
			Expect(buf.Bytes()[:3]).To(Equal([]byte{0xEF, 0xBB, 0xBF}))
		})

		It("should write only the header", func() {
			lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
			Expect(lines).To(HaveLen(1))
			Expect(lines[0]).To(ContainSubstring("日付,店舗名,カテゴリー,金額"))
		})
	})

	When("records are written", func() {
		BeforeEach(func() {
			now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
			rec := New("id-1", "2024-03-05", "会議費", 1100, now)
			rec.StoreName = "スターバックス"
			rec.Memo = "打ち合わせ, 2名"
			records = []Record{rec}
		})

		It("should write one row per record", func() {
			lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
			Expect(lines).To(HaveLen(2))
		})

		It("should include the derived tax columns", func() {
			Expect(buf.String()).To(ContainSubstring("2024-03-05,スターバックス,会議費,1100,1000,100,現金"))
		})

		It("should quote fields containing commas", func() {
			Expect(buf.String()).To(ContainSubstring(`"打ち合わせ, 2名"`))
		})
	})
})
