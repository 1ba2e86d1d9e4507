package dcb

import (
	"context"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type scenarioPayload struct {
	ID string `json:"id"`
}

func newScenarioStore() *EventStore {
	reg := NewPayloadRegistry()
	Expect(reg.Register("dcb_test.scenario.Payload", scenarioPayload{})).To(Succeed())
	cfg := Config{
		RootPath:                GinkgoT().TempDir(),
		StoreName:               "S",
		CrossProcessLockTimeout: time.Second,
		Registry:                reg,
	}
	s, err := NewEventStore(cfg)
	Expect(err).NotTo(HaveOccurred())
	return s
}

var _ = Describe("Event store end-to-end scenarios", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("appends one event and reads it back by type", func() {
		s := newScenarioStore()

		positions, err := s.Append(ctx, []NewEventInput{
			NewInputEvent("Created", scenarioPayload{ID: "a"}, NewTag("entity", "a")),
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(positions).To(Equal([]uint64{1}))

		got, err := s.Read(ctx, NewQueryFromEventTypes("Created"), nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Position).To(Equal(uint64(1)))
		Expect(got[0].Event.Tags).To(ContainElement(NewTag("entity", "a")))
	})

	It("assigns strictly increasing positions across separate batches", func() {
		s := newScenarioStore()

		_, err := s.Append(ctx, []NewEventInput{
			NewInputEvent("A", scenarioPayload{}),
			NewInputEvent("A", scenarioPayload{}),
			NewInputEvent("A", scenarioPayload{}),
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = s.Append(ctx, []NewEventInput{
			NewInputEvent("B", scenarioPayload{}),
			NewInputEvent("B", scenarioPayload{}),
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		all, err := s.Read(ctx, NewQueryAll(), nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(5))
		positions := make([]uint64, len(all))
		for i, e := range all {
			positions[i] = e.Position
		}
		Expect(positions).To(Equal([]uint64{1, 2, 3, 4, 5}))
		Expect(all[3].Event.EventType).To(Equal("B"))
	})

	It("fails a conflicting append with a concurrency error and leaves no trace", func() {
		s := newScenarioStore()

		_, err := s.Append(ctx, []NewEventInput{
			NewInputEvent("Created", scenarioPayload{}, NewTag("id", "x")),
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		lastBefore := s.LastPosition()
		zero := uint64(0)
		cond := NewAppendCondition(NewQueryFromEventTypes("Created"), &zero)

		_, err = s.Append(ctx, []NewEventInput{
			NewInputEvent("Created", scenarioPayload{}, NewTag("id", "x")),
		}, &cond)

		Expect(err).To(HaveOccurred())
		Expect(IsConcurrencyError(err)).To(BeTrue())
		Expect(s.LastPosition()).To(Equal(lastBefore))
	})

	It("composes query items with type-OR/tag-AND semantics across items", func() {
		s := newScenarioStore()

		_, err := s.Append(ctx, []NewEventInput{
			NewInputEvent("T1", scenarioPayload{}, NewTag("env", "prod")), // A
			NewInputEvent("T1", scenarioPayload{}, NewTag("env", "dev")),  // B
			NewInputEvent("T2", scenarioPayload{}, NewTag("env", "prod")), // C
			NewInputEvent("T2", scenarioPayload{}),                        // D
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		singleItem := NewQueryFromItems(NewQueryItem([]string{"T1", "T2"}, []Tag{NewTag("env", "prod")}))
		got, err := s.Read(ctx, singleItem, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(got[0].Position).To(Equal(uint64(1)))
		Expect(got[1].Position).To(Equal(uint64(3)))

		twoItems := NewQueryFromItems(
			NewQueryItem([]string{"T1"}, nil),
			NewQueryItem(nil, []Tag{NewTag("env", "prod")}),
		)
		got, err = s.Read(ctx, twoItems, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(3))
	})

	It("returns descending order for a filtered query without touching set computation", func() {
		s := newScenarioStore()
		for _, ty := range []string{"T1", "T2", "T1", "T2", "T1"} {
			_, err := s.Append(ctx, []NewEventInput{NewInputEvent(ty, scenarioPayload{})}, nil)
			Expect(err).NotTo(HaveOccurred())
		}

		got, err := s.Read(ctx, NewQueryFromEventTypes("T1"), []ReadOption{Descending}, nil)
		Expect(err).NotTo(HaveOccurred())
		positions := make([]uint64, len(got))
		for i, e := range got {
			positions[i] = e.Position
		}
		Expect(positions).To(Equal([]uint64{5, 3, 1}))
	})

	It("self-heals a malformed index after a simulated crash-restart", func() {
		s := newScenarioStore()
		_, err := s.Append(ctx, []NewEventInput{
			NewInputEvent("Created", scenarioPayload{}, NewTag("entity", "a")),
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		// Simulate a restart: discard the engine and rebuild it from disk.
		s, err = NewEventStore(s.cfg)
		Expect(err).NotTo(HaveOccurred())

		path := s.idx.typeIndexPath("Created")
		Expect(writeGarbageForTest(path)).To(Succeed())

		got, err := s.Read(ctx, NewQueryFromEventTypes("Created"), nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty(), "a malformed index self-heals to empty rather than erroring")

		_, err = s.Append(ctx, []NewEventInput{
			NewInputEvent("Created", scenarioPayload{}, NewTag("entity", "b")),
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		got, err = s.Read(ctx, NewQueryFromEventTypes("Created"), nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1), "the index rebuilt from the post-corruption append, not the lost entry")
	})
})

func writeGarbageForTest(path string) error {
	return os.WriteFile(path, []byte("{not valid json"), 0o644)
}

func TestDCBScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "DCB Event Store Scenarios")
}
