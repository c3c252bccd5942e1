package display

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveOrderState(t *testing.T) {
	received := DeriveOrderState("received")
	require.Equal(t, "Received", received.Label)
	require.Equal(t, 100, received.ProgressPercent)

	pending := DeriveOrderState("pending")
	require.Equal(t, "badge-warning", pending.ColorClass)
	require.Less(t, pending.ProgressPercent, received.ProgressPercent)

	rejected := DeriveOrderState("rejected")
	require.Equal(t, 0, rejected.ProgressPercent)
}

func TestDeriveUnknownStatus(t *testing.T) {
	require.Equal(t, "Unknown", DeriveOrderState("bogus").Label)
	require.Equal(t, "Unknown", DerivePurchaseState("").Label)
	require.Equal(t, "Unknown", DeriveBonState("draft").Label)
}

func TestDeriveBonState(t *testing.T) {
	ready := DeriveBonState("ready_for_sale")
	require.Equal(t, "Ready For Sale", ready.Label)
	require.Equal(t, 100, ready.ProgressPercent)
}

func TestMoneyRoundsToTwoDecimals(t *testing.T) {
	require.Equal(t, "23.00", Money(23))
	require.Equal(t, "1.10", Money(1.1))
	require.Equal(t, "0.35", Money(0.345000000001))
}
