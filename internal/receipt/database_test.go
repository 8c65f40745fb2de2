package receipt

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		dir string
		db  *BoltDB
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "boltdb-test")
		Expect(err).NotTo(HaveOccurred())

		db, err = NewBoltDB(filepath.Join(dir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		db.Close()
		os.RemoveAll(dir)
	})

	tripAt := func(id string, created time.Time) *Trip {
		return &Trip{
			ID:        id,
			Name:      "Trip " + id,
			Budget:    DefaultBudget,
			Currency:  DefaultCurrency,
			CreatedAt: created,
			UpdatedAt: created,
		}
	}

	receiptAt := func(id, tripID string, created time.Time) *Receipt {
		return &Receipt{
			ID:        id,
			TripID:    tripID,
			ImagePath: tripID + "/" + id + ".jpg",
			CreatedAt: created,
			UpdatedAt: created,
		}
	}

	Describe("trips", func() {
		It("round-trips a trip", func() {
			trip := tripAt("t1", time.Now().UTC())
			Expect(db.SaveTrip(trip)).To(Succeed())

			loaded, err := db.GetTrip("t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Name).To(Equal("Trip t1"))
			Expect(loaded.Budget).To(Equal(DefaultBudget))
		})

		It("returns ErrNotFound for a missing trip", func() {
			_, err := db.GetTrip("missing")
			var notFound *ErrNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.Kind).To(Equal("trip"))
		})

		It("replaces a trip on re-save", func() {
			trip := tripAt("t1", time.Now().UTC())
			Expect(db.SaveTrip(trip)).To(Succeed())
			trip.Name = "Renamed"
			Expect(db.SaveTrip(trip)).To(Succeed())

			loaded, err := db.GetTrip("t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Name).To(Equal("Renamed"))
		})

		It("lists trips newest first", func() {
			base := time.Now().UTC()
			Expect(db.SaveTrip(tripAt("old", base.Add(-2*time.Hour)))).To(Succeed())
			Expect(db.SaveTrip(tripAt("new", base))).To(Succeed())
			Expect(db.SaveTrip(tripAt("mid", base.Add(-time.Hour)))).To(Succeed())

			trips, err := db.ListTrips()
			Expect(err).NotTo(HaveOccurred())
			Expect(trips).To(HaveLen(3))
			Expect(trips[0].ID).To(Equal("new"))
			Expect(trips[1].ID).To(Equal("mid"))
			Expect(trips[2].ID).To(Equal("old"))
		})

		It("deletes a trip", func() {
			Expect(db.SaveTrip(tripAt("t1", time.Now().UTC()))).To(Succeed())
			Expect(db.DeleteTrip("t1")).To(Succeed())

			_, err := db.GetTrip("t1")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("receipts", func() {
		It("round-trips a receipt with null extraction fields", func() {
			r := receiptAt("r1", "t1", time.Now().UTC())
			Expect(db.SaveReceipt(r)).To(Succeed())

			loaded, err := db.GetReceipt("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.TripID).To(Equal("t1"))
			Expect(loaded.Date).To(BeNil())
			Expect(loaded.Cost).To(BeNil())
			Expect(loaded.OCRConfidence).To(BeNil())
		})

		It("preserves populated fields", func() {
			r := receiptAt("r1", "t1", time.Now().UTC())
			r.Location = strp("Blue Bottle Coffee")
			r.Cost = f64p(42.75)
			r.OCRConfidence = f64p(0.5)
			Expect(db.SaveReceipt(r)).To(Succeed())

			loaded, err := db.GetReceipt("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Location).To(HaveValue(Equal("Blue Bottle Coffee")))
			Expect(loaded.Cost).To(HaveValue(Equal(42.75)))
			Expect(loaded.OCRConfidence).To(HaveValue(Equal(0.5)))
		})

		It("returns ErrNotFound for a missing receipt", func() {
			_, err := db.GetReceipt("missing")
			var notFound *ErrNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.Kind).To(Equal("receipt"))
		})

		It("lists only the trip's receipts, newest first", func() {
			base := time.Now().UTC()
			Expect(db.SaveReceipt(receiptAt("r1", "t1", base.Add(-time.Hour)))).To(Succeed())
			Expect(db.SaveReceipt(receiptAt("r2", "t1", base))).To(Succeed())
			Expect(db.SaveReceipt(receiptAt("other", "t2", base))).To(Succeed())

			receipts, err := db.ListReceipts("t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(HaveLen(2))
			Expect(receipts[0].ID).To(Equal("r2"))
			Expect(receipts[1].ID).To(Equal("r1"))
		})

		It("returns an empty list for a trip with no receipts", func() {
			receipts, err := db.ListReceipts("empty")
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).To(BeEmpty())
		})

		It("deletes a receipt", func() {
			Expect(db.SaveReceipt(receiptAt("r1", "t1", time.Now().UTC()))).To(Succeed())
			Expect(db.DeleteReceipt("r1")).To(Succeed())

			_, err := db.GetReceipt("r1")
			Expect(err).To(HaveOccurred())
		})
	})

	It("persists across reopen", func() {
		path := filepath.Join(dir, "persist.db")
		first, err := NewBoltDB(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.SaveTrip(tripAt("t1", time.Now().UTC()))).To(Succeed())
		Expect(first.Close()).To(Succeed())

		second, err := NewBoltDB(path)
		Expect(err).NotTo(HaveOccurred())
		defer second.Close()

		loaded, err := second.GetTrip("t1")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Name).To(Equal("Trip t1"))
	})
})
