package domain

import "testing"

func TestLadderIsContiguous(t *testing.T) {
	stages := Stages()
	if len(stages) != 8 {
		t.Fatalf("expected 8 stages, got %d", len(stages))
	}
	for i, stage := range stages {
		if got := StageOrder(stage); got != i+1 {
			t.Errorf("stage %s: expected order %d, got %d", stage, i+1, got)
		}
		if StageByOrder(i+1) != stage {
			t.Errorf("order %d: expected stage %s, got %s", i+1, stage, StageByOrder(i+1))
		}
	}
}

func TestEveryEventTypePromotesIntoAKnownStage(t *testing.T) {
	events := []string{
		EventContactMade,
		EventQualified,
		EventShowingScheduled,
		EventShowingCompleted,
		EventOfferSubmitted,
		EventOfferAccepted,
		EventSaleClosed,
	}
	for _, ev := range events {
		stage, ok := StageForEventType(ev)
		if !ok {
			t.Fatalf("event %s has no stage", ev)
		}
		if !IsKnownStage(stage) {
			t.Fatalf("event %s maps to unknown stage %s", ev, stage)
		}
		if StageOrder(stage) <= StageOrder(StageLeadCreated) {
			t.Errorf("event %s must promote past the initial stage", ev)
		}
	}
}

func TestUnknownLookups(t *testing.T) {
	if IsKnownEventType("viewing_booked") {
		t.Error("viewing_booked must not be a known event type")
	}
	if StageOrder("limbo") != 0 {
		t.Error("unknown stage must have order 0")
	}
	if StageByOrder(0) != "" || StageByOrder(9) != "" {
		t.Error("out-of-range orders must return empty stage")
	}
}

func TestTerminalStage(t *testing.T) {
	if !IsTerminal(StageSaleClosed) {
		t.Error("sale_closed must be terminal")
	}
	if IsTerminal(StageOfferAccepted) {
		t.Error("offer_accepted must not be terminal")
	}
}
