package router

import (
	"net/http/httptest"
	"testing"
)

func TestParseBBox_HappyPath(t *testing.T) {
	b, err := ParseBBox("10,55,20,62")
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if b[0] != 10 || b[1] != 55 || b[2] != 20 || b[3] != 62 {
		t.Fatalf("wrong bbox: %v", b)
	}
}

func TestParseBBox_Rejections(t *testing.T) {
	cases := []string{
		"",
		"1,2,3",
		"1,2,3,4,5",
		"a,2,3,4",
		"200,2,210,4",
		"10,95,20,99",
		"10,55,9,62",
		"10,55,20,55",
	}
	for _, raw := range cases {
		if _, err := ParseBBox(raw); err == nil {
			t.Errorf("%q: expected rejection", raw)
		}
	}
}

func TestParseClusterQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/map/clusters?bbox=10,55,20,62&zoom=7", nil)
	q, err := ParseClusterQuery(r)
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if q.Zoom != 7 || q.BBox[2] != 20 {
		t.Fatalf("wrong query: %+v", q)
	}

	for _, path := range []string{
		"/map/clusters?zoom=7",
		"/map/clusters?bbox=10,55,20,62",
		"/map/clusters?bbox=10,55,20,62&zoom=x",
		"/map/clusters?bbox=10,55,20,62&zoom=99",
	} {
		r := httptest.NewRequest("GET", path, nil)
		if _, err := ParseClusterQuery(r); err == nil {
			t.Errorf("%s: expected rejection", path)
		}
	}
}

func TestParsePage_Defaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/x", nil)
	limit, offset := ParsePage(r, 10)
	if limit != 10 || offset != 0 {
		t.Fatalf("defaults wrong: limit=%d offset=%d", limit, offset)
	}

	r = httptest.NewRequest("GET", "/x?limit=5&offset=-3", nil)
	limit, offset = ParsePage(r, 10)
	if limit != 5 || offset != 0 {
		t.Fatalf("clamping wrong: limit=%d offset=%d", limit, offset)
	}
}
