package bot

import (
	"testing"

	"scalper/internal/models"
)

func TestExposureManager_Limits(t *testing.T) {
	em := NewExposureManager(100)

	if !em.CanOpenLong(100) {
		t.Error("long up to cap must be allowed")
	}
	if em.CanOpenLong(101) {
		t.Error("long above cap must be refused")
	}

	em.Record(models.TradeBuy, 80)
	if em.CanOpenLong(30) {
		t.Error("80 + 30 > 100 must be refused")
	}
	// short уменьшает нетто long
	if !em.CanOpenShort(150) {
		t.Error("|0 - 80 + 150| = 70 must be allowed")
	}
	if em.CanOpenShort(200) {
		t.Error("|0 - 80 + 200| = 120 must be refused")
	}

	em.Record(models.TradeSell, 50)
	if got := em.Net(); !approx(got, 30) {
		t.Errorf("Net = %v, want 30", got)
	}
}

func TestExposureManager_CloseFloorsAtZero(t *testing.T) {
	em := NewExposureManager(100)
	em.Record(models.TradeBuy, 20)
	em.Record(models.TradeCloseBuy, 50)
	em.Record(models.TradeCloseSell, 10)

	snap := em.Snapshot()
	if snap.Long != 0 || snap.Short != 0 {
		t.Errorf("closes must floor at zero, got %+v", snap)
	}
}

func TestExposureManager_Decay(t *testing.T) {
	em := NewExposureManager(100)
	em.Record(models.TradeBuy, 100)
	em.Record(models.TradeSell, 20)

	em.Decay(0.95)
	snap := em.Snapshot()
	if !approx(snap.Long, 95) || !approx(snap.Short, 19) {
		t.Errorf("after decay %+v", snap)
	}

	em.Decay(0) // некорректный множитель заменяется 0.95
	if !approx(em.Snapshot().Long, 90.25) {
		t.Errorf("default decay not applied: %+v", em.Snapshot())
	}
}

func TestExposureRegistry(t *testing.T) {
	r := NewExposureRegistry(0)
	r.SetBalance(1000) // глобальный лимит 500

	if r.Global().Snapshot().Cap != 500 {
		t.Fatalf("global cap = %v", r.Global().Snapshot().Cap)
	}
	if r.Worker("a").Snapshot().Cap != DefaultWorkerExposureCap {
		t.Fatalf("worker cap = %v", r.Worker("a").Snapshot().Cap)
	}
	if r.Worker("a") != r.Worker("a") {
		t.Fatal("Worker must return the same manager")
	}

	r.Record("a", models.TradeBuy, 300)
	r.Record("b", models.TradeBuy, 150)

	// воркер b: 150+100 <= 1000, глобально 450+100 > 500
	if r.CanOpen("b", models.SideBuy, 100) {
		t.Error("global cap must block the entry")
	}
	if !r.CanOpen("b", models.SideSell, 100) {
		t.Error("short reduces net exposure and must pass")
	}

	r.DecayAll(0.5)
	if !approx(r.Global().Net(), 225) || !approx(r.Worker("a").Net(), 150) {
		t.Errorf("DecayAll: global %v worker %v", r.Global().Net(), r.Worker("a").Net())
	}
}
