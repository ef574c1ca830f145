package krxrest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/krxusd/marketdata/internal/httpclient"
)

func validTokenHandler(token string, expiresIn int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: token, ExpiresIn: expiresIn, TokenType: "Bearer"})
	}
}

func newStubTokenProvider(t *testing.T, token string) *TokenProvider {
	t.Helper()
	srv := httptest.NewServer(validTokenHandler(token, 86400))
	t.Cleanup(srv.Close)
	return NewTokenProvider(srv.URL, "test-key", "test-secret", srv.Client())
}

func newTestClient(t *testing.T, srv *httptest.Server, tokenProvider *TokenProvider) *Client {
	t.Helper()
	hc := httpclient.NewClient(srv.URL, map[string]string{"appkey": "test-key", "appsecret": "test-secret"}, srv.Client(), 0)
	return New(hc, tokenProvider)
}

func successResponse(rows []dailyChartRow) dailyChartResponse {
	return dailyChartResponse{MsgCode: "MCA00000", Msg: "OK", Output2: rows, RtCode: "0"}
}

func TestFetchDailySinglePage(t *testing.T) {
	stubTP := newStubTokenProvider(t, "test-bearer-token")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != dailyChartPath {
			t.Errorf("path = %q, want %s", r.URL.Path, dailyChartPath)
		}
		if got := r.Header.Get("authorization"); got != "Bearer test-bearer-token" {
			t.Errorf("authorization = %q, want bearer token", got)
		}
		resp := successResponse([]dailyChartRow{
			{StckBsopDate: "20240116", StckOprc: "72000", StckHgpr: "72500", StckLwpr: "71500", StckClpr: "72200", AcmlVol: "15000000"},
			{StckBsopDate: "20240115", StckOprc: "71000", StckHgpr: "72000", StckLwpr: "70500", StckClpr: "71800", AcmlVol: "12000000"},
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, stubTP)
	from := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	bars, err := client.FetchDaily(context.Background(), "005930", from, to)
	if err != nil {
		t.Fatalf("FetchDaily: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("len(bars) = %d, want 2", len(bars))
	}
	if bars[0].Date.Format("2006-01-02") != "2024-01-15" {
		t.Errorf("bars[0].Date = %s, want 2024-01-15 (ascending)", bars[0].Date)
	}
	if !bars[1].Close.Equal(bars[1].Close) {
		t.Error("sanity: decimal comparison should be reflexive")
	}
}

func TestFetchDailyAPIError(t *testing.T) {
	stubTP := newStubTokenProvider(t, "tok")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(dailyChartResponse{RtCode: "1", MsgCode: "EGW00201", Msg: "rate limited"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv, stubTP)
	_, err := client.FetchDaily(context.Background(), "005930", time.Now().AddDate(0, 0, -5), time.Now())
	if err == nil {
		t.Fatal("expected error on non-zero rt_cd")
	}
}
