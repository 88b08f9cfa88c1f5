package escrow

import (
	"math/big"
	"testing"
)

func TestStatusLabels(t *testing.T) {
	cases := []struct {
		status Status
		label  string
	}{
		{StatusPending, "PENDING"},
		{StatusActive, "ACTIVE"},
		{StatusCompleted, "COMPLETED"},
		{StatusRefunded, "REFUNDED"},
		{StatusDisputed, "DISPUTED"},
	}
	for _, tc := range cases {
		if got := tc.status.String(); got != tc.label {
			t.Fatalf("status %d: want %s got %s", tc.status, tc.label, got)
		}
		parsed, err := ParseStatus(tc.label)
		if err != nil {
			t.Fatalf("parse %s: %v", tc.label, err)
		}
		if parsed != tc.status {
			t.Fatalf("parse %s: want %d got %d", tc.label, tc.status, parsed)
		}
	}
	if _, err := ParseStatus("UNKNOWN"); err == nil {
		t.Fatalf("expected error for unknown label")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() || StatusActive.Terminal() || StatusDisputed.Terminal() {
		t.Fatalf("open statuses must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusRefunded.Terminal() {
		t.Fatalf("settled statuses must be terminal")
	}
}

func TestSanitizeAgreement(t *testing.T) {
	base := &Agreement{
		ID:        [32]byte{0x01},
		Client:    newTestAddress(0x01),
		Provider:  newTestAddress(0x02),
		Amount:    big.NewInt(10),
		Status:    StatusPending,
		CreatedAt: 100,
		UpdatedAt: 100,
	}
	if _, err := SanitizeAgreement(base); err != nil {
		t.Fatalf("sanitize: %v", err)
	}

	bad := base.Clone()
	bad.Amount = big.NewInt(-1)
	if _, err := SanitizeAgreement(bad); err == nil {
		t.Fatalf("negative amount must fail")
	}

	bad = base.Clone()
	bad.Status = Status(99)
	if _, err := SanitizeAgreement(bad); err == nil {
		t.Fatalf("unknown status must fail")
	}

	bad = base.Clone()
	bad.UpdatedAt = 50
	if _, err := SanitizeAgreement(bad); err == nil {
		t.Fatalf("updatedAt before createdAt must fail")
	}
}
