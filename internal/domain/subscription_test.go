package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neomorfeo/billcycle/internal/domain"
)

func testPlan(trialDays int) domain.Plan {
	return domain.Plan{
		ID:            "plan_pro",
		Name:          "Pro",
		Price:         decimal.RequireFromString("100.00"),
		Currency:      "usd",
		BillingPeriod: domain.PeriodMonthly,
		TrialDays:     trialDays,
		IsActive:      true,
	}
}

func TestNewSubscription_Active(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	s := domain.NewSubscription("sub_1", "user_1", testPlan(0), "pm_1", "DE", "", now)

	if s.Status != domain.StatusActive {
		t.Errorf("Status = %q, want %q", s.Status, domain.StatusActive)
	}
	if !s.CurrentPeriodStart.Equal(now) {
		t.Errorf("CurrentPeriodStart = %v, want %v", s.CurrentPeriodStart, now)
	}
	want := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	if !s.CurrentPeriodEnd.Equal(want) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", s.CurrentPeriodEnd, want)
	}
	if s.CancelAtPeriodEnd {
		t.Error("CancelAtPeriodEnd should be false on a new subscription")
	}
	if s.PlanID != "plan_pro" {
		t.Errorf("PlanID = %q, want %q", s.PlanID, "plan_pro")
	}
}

func TestNewSubscription_Trial(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	s := domain.NewSubscription("sub_1", "user_1", testPlan(14), "pm_1", "DE", "", now)

	if s.Status != domain.StatusTrialing {
		t.Errorf("Status = %q, want %q", s.Status, domain.StatusTrialing)
	}
	want := now.AddDate(0, 0, 14)
	if !s.CurrentPeriodEnd.Equal(want) {
		t.Errorf("CurrentPeriodEnd = %v, want %v", s.CurrentPeriodEnd, want)
	}
}

func TestBillingPeriod_Advance(t *testing.T) {
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		period domain.BillingPeriod
		want   time.Time
	}{
		{domain.PeriodMonthly, start.AddDate(0, 1, 0)},
		{domain.PeriodQuarterly, start.AddDate(0, 3, 0)},
		{domain.PeriodYearly, start.AddDate(1, 0, 0)},
	}
	for _, tc := range cases {
		if got := tc.period.Advance(start); !got.Equal(tc.want) {
			t.Errorf("%s.Advance() = %v, want %v", tc.period, got, tc.want)
		}
	}
}

func TestSubscriptionTransitions_ValidPaths(t *testing.T) {
	cases := []struct {
		event domain.SubscriptionEvent
		src   domain.SubscriptionStatus
		dst   domain.SubscriptionStatus
	}{
		{domain.EventActivate, domain.StatusTrialing, domain.StatusActive},
		{domain.EventActivate, domain.StatusPastDue, domain.StatusActive},
		{domain.EventMarkPastDue, domain.StatusActive, domain.StatusPastDue},
		{domain.EventCancel, domain.StatusActive, domain.StatusCancelled},
		{domain.EventCancel, domain.StatusPastDue, domain.StatusCancelled},
		{domain.EventRenew, domain.StatusActive, domain.StatusActive},
	}

	for _, tc := range cases {
		found := false
		for _, tr := range domain.SubscriptionTransitions {
			if tr.Event == tc.event && tr.Src == tc.src && tr.Dst == tc.dst {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing transition: %q from %q → %q", tc.event, tc.src, tc.dst)
		}
	}
}

func TestSubscriptionTransitions_CancelledIsTerminal(t *testing.T) {
	for _, tr := range domain.SubscriptionTransitions {
		if tr.Src == domain.StatusCancelled {
			t.Errorf("transition %q leaves terminal state cancelled", tr.Event)
		}
	}
}

func TestPlan_Validate(t *testing.T) {
	valid := testPlan(0)
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}

	bad := valid
	bad.BillingPeriod = "weekly"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown billing period")
	}

	bad = valid
	bad.Price = decimal.NewFromInt(-1)
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative price")
	}
}
