package pda

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ncn-labs/tip-router/internal/feemodel"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestDerivationsAreDeterministic(t *testing.T) {
	ncn := addr(1)
	if WeightTable(ncn, 5) != WeightTable(ncn, 5) {
		t.Fatalf("WeightTable derivation should be deterministic")
	}
}

func TestDerivationsDifferByEpoch(t *testing.T) {
	ncn := addr(1)
	if WeightTable(ncn, 5) == WeightTable(ncn, 6) {
		t.Fatalf("different epochs must derive different addresses")
	}
}

func TestDerivationsDifferByNcn(t *testing.T) {
	if Config(addr(1)) == Config(addr(2)) {
		t.Fatalf("different NCNs must derive different config addresses")
	}
}

func TestDerivationsDifferByPurposeTag(t *testing.T) {
	ncn := addr(1)
	if WeightTable(ncn, 5) == EpochSnapshot(ncn, 5) {
		t.Fatalf("different purpose tags over identical (ncn, epoch) must not collide")
	}
}

func TestOperatorSnapshotDiffersByOperator(t *testing.T) {
	ncn := addr(1)
	if OperatorSnapshot(addr(2), ncn, 5) == OperatorSnapshot(addr(3), ncn, 5) {
		t.Fatalf("different operators must derive different operator snapshot addresses")
	}
}

func TestNcnRewardRouterDiffersByFeeGroup(t *testing.T) {
	ncn, operator := addr(1), addr(2)
	a := NcnRewardRouter(feemodel.NcnFeeGroupDefault, operator, ncn, 5)
	b := NcnRewardRouter(feemodel.NcnFeeGroupJTO, operator, ncn, 5)
	if a == b {
		t.Fatalf("different ncn fee groups must derive different reward router addresses")
	}
}

func TestNcnRewardRouterAndReceiverDiffer(t *testing.T) {
	ncn, operator := addr(1), addr(2)
	router := NcnRewardRouter(feemodel.NcnFeeGroupDefault, operator, ncn, 5)
	receiver := NcnRewardReceiver(feemodel.NcnFeeGroupDefault, operator, ncn, 5)
	if router == receiver {
		t.Fatalf("router and receiver addresses must not collide")
	}
}
