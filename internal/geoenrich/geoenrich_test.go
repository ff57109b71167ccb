package geoenrich

import "testing"

func TestOpenMissingDatabaseStaysUsable(t *testing.T) {
	p, err := Open("/nonexistent/path/to/GeoLite2-City.mmdb")
	if err != nil {
		t.Fatalf("Open returned error for missing database: %v", err)
	}
	if p.Enabled() {
		t.Fatal("expected Enabled() to be false without an open database")
	}
	if loc := p.Lookup("8.8.8.8"); loc != nil {
		t.Fatalf("expected nil Location without an open database, got %+v", loc)
	}
	p.Close()
}

func TestLookupUnparseableAddrReturnsNil(t *testing.T) {
	p := &Provider{}
	if loc := p.Lookup("not-an-ip"); loc != nil {
		t.Fatalf("expected nil Location for unparseable address, got %+v", loc)
	}
}
