// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package schedule

import (
	"testing"
	"time"
)

func TestTicker(t *testing.T) {
	ticker, err := ForSchedule("@every 1s")
	if err != nil {
		t.Fatal(err)
	}
	defer ticker.Stop()

	select {
	case tt := <-ticker.C:
		if tt.IsZero() {
			t.Error("zero time")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no tick")
	}
}

func TestTicker__DropsWhileBusy(t *testing.T) {
	ticker, err := ForSchedule("@every 1h")
	if err != nil {
		t.Fatal(err)
	}
	defer ticker.Stop()

	// nothing reads, so only one tick is buffered
	ticker.tick()
	ticker.tick()
	ticker.tick()

	if n := len(ticker.C); n != 1 {
		t.Errorf("buffered %d ticks", n)
	}
}

func TestTicker__Stop(t *testing.T) {
	ticker, err := ForSchedule("@every 1h")
	if err != nil {
		t.Fatal(err)
	}
	ticker.Stop()
	ticker.Stop()
	ticker.tick() // must not block or panic

	var nilTicker *Ticker
	nilTicker.Stop()
}

func TestTickerErr(t *testing.T) {
	if _, err := ForSchedule(""); err == nil {
		t.Error("expected error")
	}
	if _, err := ForSchedule("bad schedule"); err == nil {
		t.Error("expected error")
	}
}
