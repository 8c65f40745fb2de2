package receipt

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Merge", func() {
	ids := func(receipts []*Receipt) []string {
		out := make([]string, len(receipts))
		for i, r := range receipts {
			out[i] = r.ID
		}
		return out
	}

	var list []*Receipt

	BeforeEach(func() {
		list = []*Receipt{{ID: "b"}, {ID: "a"}}
	})

	Describe("INSERT", func() {
		It("prepends a new receipt", func() {
			merged := Merge(list, Event{Type: EventInsert, Receipt: &Receipt{ID: "c"}})
			Expect(ids(merged)).To(Equal([]string{"c", "b", "a"}))
		})

		It("de-duplicates by ID", func() {
			merged := Merge(list, Event{Type: EventInsert, Receipt: &Receipt{ID: "a"}})
			Expect(ids(merged)).To(Equal([]string{"b", "a"}))
		})
	})

	Describe("UPDATE", func() {
		It("replaces the matching receipt in place", func() {
			updated := &Receipt{ID: "a", Location: strp("7-Eleven")}
			merged := Merge(list, Event{Type: EventUpdate, Receipt: updated})
			Expect(ids(merged)).To(Equal([]string{"b", "a"}))
			Expect(merged[1].Location).To(HaveValue(Equal("7-Eleven")))
		})

		It("leaves the list unchanged when no ID matches", func() {
			merged := Merge(list, Event{Type: EventUpdate, Receipt: &Receipt{ID: "z"}})
			Expect(ids(merged)).To(Equal([]string{"b", "a"}))
		})
	})

	Describe("DELETE", func() {
		It("removes the matching receipt", func() {
			merged := Merge(list, Event{Type: EventDelete, Receipt: &Receipt{ID: "b"}})
			Expect(ids(merged)).To(Equal([]string{"a"}))
		})

		It("leaves the list unchanged when no ID matches", func() {
			merged := Merge(list, Event{Type: EventDelete, Receipt: &Receipt{ID: "z"}})
			Expect(ids(merged)).To(Equal([]string{"b", "a"}))
		})
	})

	It("ignores an event without a receipt", func() {
		merged := Merge(list, Event{Type: EventInsert})
		Expect(ids(merged)).To(Equal([]string{"b", "a"}))
	})

	It("does not mutate the input list", func() {
		Merge(list, Event{Type: EventDelete, Receipt: &Receipt{ID: "b"}})
		Expect(ids(list)).To(Equal([]string{"b", "a"}))
	})
})

var _ = Describe("Hub", func() {
	var hub *Hub

	BeforeEach(func() {
		hub = NewHub()
	})

	It("delivers events to a subscriber of the same trip", func() {
		events, cancel := hub.Subscribe("trip-1")
		defer cancel()

		hub.Publish("trip-1", Event{Type: EventInsert, Receipt: &Receipt{ID: "r1"}})

		var event Event
		Eventually(events).Should(Receive(&event))
		Expect(event.Receipt.ID).To(Equal("r1"))
	})

	It("scopes delivery to the trip", func() {
		events, cancel := hub.Subscribe("trip-1")
		defer cancel()

		hub.Publish("trip-2", Event{Type: EventInsert, Receipt: &Receipt{ID: "r1"}})
		Consistently(events).ShouldNot(Receive())
	})

	It("fans out to every subscriber", func() {
		first, cancelFirst := hub.Subscribe("trip-1")
		defer cancelFirst()
		second, cancelSecond := hub.Subscribe("trip-1")
		defer cancelSecond()

		hub.Publish("trip-1", Event{Type: EventDelete, Receipt: &Receipt{ID: "r1"}})

		Eventually(first).Should(Receive())
		Eventually(second).Should(Receive())
	})

	It("closes the channel on cancel", func() {
		events, cancel := hub.Subscribe("trip-1")
		cancel()
		Eventually(events).Should(BeClosed())
	})

	It("tolerates cancel being called twice", func() {
		_, cancel := hub.Subscribe("trip-1")
		cancel()
		Expect(cancel).NotTo(Panic())
	})

	It("drops events for a subscriber whose buffer is full", func() {
		events, cancel := hub.Subscribe("trip-1")
		defer cancel()

		for i := 0; i < 40; i++ {
			hub.Publish("trip-1", Event{Type: EventInsert, Receipt: &Receipt{ID: "r"}})
		}

		// The publisher must never have blocked; the buffer holds what fit.
		count := 0
		for len(events) > 0 {
			<-events
			count++
		}
		Expect(count).To(Equal(16))
	})
})
